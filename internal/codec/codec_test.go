package codec

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

func TestOrderCode(t *testing.T) {
	cases := map[string]string{
		"order_1712345678901_a1b2c3d4e": "a1b2c3d4e",
		"order_123_abc":                 "abc",
		"order_123_":                    "der123",
		"ORD-2024-XYZ":                  "024XYZ",
	}
	for ref, want := range cases {
		if got := OrderCode(ref); got != want {
			t.Fatalf("OrderCode(%q) = %q, want %q", ref, got, want)
		}
	}
}

func TestEncode_FormatAndStability(t *testing.T) {
	pattern := regexp.MustCompile(`^Cologne \([A-Za-z0-9]{3}\d+\)$`)
	code := OrderCode("order_1712345678901_f00ba4e11")

	for i := 0; i < 12; i++ {
		a := Encode("", code, i)
		b := Encode("Cologne", code, i)
		if a != b {
			t.Fatalf("encode not stable: %q vs %q", a, b)
		}
		if !pattern.MatchString(a) {
			t.Fatalf("encoded name %q does not match %s", a, pattern)
		}
	}
	if got := Encode("Fragrance", "xyz123", 8); got != "Fragrance (xyz9)" {
		t.Fatalf("unexpected encoding: %q", got)
	}
}

func TestBuildMapping_RoundTrip(t *testing.T) {
	items := []orders.OrderItem{
		{ID: "p1", Name: "Luxury No.5", Price: 20, Quantity: 2},
		{ID: "p2", Name: "Oud Royale", Price: 55, Quantity: 1, Metadata: orders.ItemMetadata{Type: "physical", Size: "50ml"}},
		{ID: "p3", Name: "Gift Card", Price: 25, Quantity: 1, Metadata: orders.ItemMetadata{Type: "digital"}},
	}
	mapping, encoded := BuildMapping(items, "Cologne", "abc123def")

	if len(mapping) != len(items) || len(encoded) != len(items) {
		t.Fatalf("expected %d entries, got %d/%d", len(items), len(mapping), len(encoded))
	}
	if items[0].Metadata.EncodedName != "" {
		t.Fatalf("input items must not be modified")
	}
	for i, it := range encoded {
		if it.Metadata.RefCode != RefCode("abc123def", i) {
			t.Fatalf("item %d refCode = %q", i, it.Metadata.RefCode)
		}
		if got := Decode(it.Metadata.EncodedName, mapping); got != items[i].Name {
			t.Fatalf("round trip %d: got %q, want %q", i, got, items[i].Name)
		}
		// every refCode is a substring of exactly one key
		n := 0
		for k := range mapping {
			if strings.Contains(k, "("+it.Metadata.RefCode+")") {
				n++
			}
		}
		if n != 1 {
			t.Fatalf("refCode %q matched %d keys", it.Metadata.RefCode, n)
		}
	}
	if mapping["Cologne (abc2)"].Metadata.Size != "50ml" {
		t.Fatalf("metadata not carried into mapping: %+v", mapping["Cologne (abc2)"])
	}
}

func TestDecode_ExactKey(t *testing.T) {
	mapping := orders.ProductMapping{
		"Cologne (xyz9)": {OriginalID: "p9", OriginalName: "Luxury No.5", RefCode: "xyz9"},
	}
	if got := Decode("Cologne (xyz9)", mapping); got != "Luxury No.5" {
		t.Fatalf("expected Luxury No.5, got %q", got)
	}
}

func TestDecode_Fallbacks(t *testing.T) {
	mapping := orders.ProductMapping{
		"Cologne (abc1)":  {OriginalName: "First"},
		"Cologne (abc12)": {OriginalName: "Twelfth"},
	}

	// label changed since the order was placed; code still matches
	if got := Decode("Fragrance (abc1)", mapping); got != "First" {
		t.Fatalf("expected First, got %q", got)
	}
	if got := Decode("Fragrance (abc12)", mapping); got != "Twelfth" {
		t.Fatalf("expected Twelfth, got %q", got)
	}
	// substring fallback
	legacy := orders.ProductMapping{"Cologne ref-xyz3": {OriginalName: "Legacy"}}
	if got := Decode("Cologne (xyz3)", legacy); got != "Legacy" {
		t.Fatalf("expected Legacy, got %q", got)
	}
	// no match: unchanged
	for _, in := range []string{"Cologne (zzz1)", "Plain name", ""} {
		if got := Decode(in, mapping); got != in {
			t.Fatalf("Decode(%q) = %q, want input unchanged", in, got)
		}
	}
	if got := Decode("Cologne (abc1)", nil); got != "Cologne (abc1)" {
		t.Fatalf("nil mapping should return input, got %q", got)
	}
}

func TestBuildMapping_ElevenItemsRoundTrip(t *testing.T) {
	var items []orders.OrderItem
	for i := 0; i < 11; i++ {
		items = append(items, orders.OrderItem{ID: fmt.Sprintf("p%d", i+1), Name: fmt.Sprintf("Scent %d", i+1), Price: 10, Quantity: 1})
	}
	code := OrderCode("order_1712345678901_abcdef")
	mapping, encoded := BuildMapping(items, "Cologne", code)

	for i, it := range encoded {
		ref := it.Metadata.RefCode
		// "abc1" is a substring of "abc10" and "abc11"; only one key carries "(abc1)"
		n := 0
		for k := range mapping {
			if strings.Contains(k, "("+ref+")") {
				n++
			}
		}
		if n != 1 {
			t.Fatalf("item %d: %d keys carry (%s)", i, n, ref)
		}

		want := items[i].Name
		if got := Decode(it.Metadata.EncodedName, mapping); got != want {
			t.Fatalf("exact decode of %q = %q, want %q", it.Metadata.EncodedName, got, want)
		}
		relabeled := "Fragrance (" + ref + ")"
		if got := Decode(relabeled, mapping); got != want {
			t.Fatalf("fallback decode of %q = %q, want %q", relabeled, got, want)
		}
	}
}
