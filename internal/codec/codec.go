// Package codec replaces product names with generic labels before they are sent
// to the payment gateway, and maps the labels back using the order's stored
// product mapping.
package codec

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

// DefaultLabel is used when no generic label is configured.
const DefaultLabel = "Cologne"

var refSuffix = regexp.MustCompile(`\(([^)]+)\)$`)

// OrderCode derives the short order code from an order reference: the random
// suffix after the last underscore, or the last six alphanumerics when the
// reference has no usable suffix.
func OrderCode(reference string) string {
	if i := strings.LastIndex(reference, "_"); i >= 0 && i < len(reference)-1 {
		if code := reference[i+1:]; isAlnum(code) {
			return code
		}
	}
	var alnum []rune
	for _, r := range reference {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			alnum = append(alnum, r)
		}
	}
	if len(alnum) > 6 {
		alnum = alnum[len(alnum)-6:]
	}
	return string(alnum)
}

// RefCode is the per-item reference code: the first three characters of the
// order code followed by the 1-based item position.
func RefCode(orderCode string, index int) string {
	prefix := orderCode
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return fmt.Sprintf("%s%d", prefix, index+1)
}

// Encode returns "<label> (<refCode>)". It is stable for a given (orderCode, index).
func Encode(label, orderCode string, index int) string {
	if label == "" {
		label = DefaultLabel
	}
	return fmt.Sprintf("%s (%s)", label, RefCode(orderCode, index))
}

// BuildMapping encodes every item and returns the mapping to persist with the
// order. The returned items are copies carrying EncodedName and RefCode in their
// metadata; the input slice is not modified.
func BuildMapping(items []orders.OrderItem, label, orderCode string) (orders.ProductMapping, []orders.OrderItem) {
	mapping := make(orders.ProductMapping, len(items))
	encoded := make([]orders.OrderItem, len(items))
	for i, item := range items {
		name := Encode(label, orderCode, i)
		ref := RefCode(orderCode, i)

		item.Metadata.EncodedName = name
		item.Metadata.RefCode = ref
		encoded[i] = item

		mapping[name] = orders.MappedProduct{
			OriginalID:   item.ID,
			OriginalName: item.Name,
			RefCode:      ref,
			Metadata:     item.Metadata,
		}
	}
	return mapping, encoded
}

// Decode maps an encoded display name back to the original product name. It tries
// the exact key, then the reference code in the trailing parentheses, and returns
// the input unchanged when nothing matches.
func Decode(encodedName string, mapping orders.ProductMapping) string {
	if p, ok := mapping[encodedName]; ok {
		return p.OriginalName
	}

	m := refSuffix.FindStringSubmatch(encodedName)
	if m == nil {
		return encodedName
	}
	code := m[1]

	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// "(abc1)" must not match "(abc12)", so parenthesized hits win
	for _, k := range keys {
		if strings.Contains(k, "("+code+")") {
			return mapping[k].OriginalName
		}
	}
	for _, k := range keys {
		if strings.Contains(k, code) {
			return mapping[k].OriginalName
		}
	}
	return encodedName
}

func isAlnum(s string) bool {
	for _, r := range s {
		if r >= unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return s != ""
}
