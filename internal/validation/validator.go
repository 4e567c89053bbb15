package validation

import (
	"math"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// minChargeCents is the smallest total the payment processor accepts.
const minChargeCents = 50

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterStructValidation(checkoutStructValidation, CheckoutRequest{})
	v.RegisterStructValidation(statusUpdateStructValidation, StatusUpdateRequest{})
	v.RegisterStructValidation(lookupStructValidation, LookupRequest{})

	return v
}

// checkoutStructValidation rejects carts whose total is below the minimum charge.
func checkoutStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CheckoutRequest)
	if len(req.Items) == 0 {
		return
	}

	var sum float64
	for _, it := range req.Items {
		sum += float64(it.Quantity) * it.Price
	}
	if int(math.Round(sum*100)) < minChargeCents {
		sl.ReportError(req.Items, "items", "Items", "min_total", "")
	}
}

// statusUpdateStructValidation requires a tracking number when marking an order shipped.
func statusUpdateStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(StatusUpdateRequest)
	if req.Status == "shipped" && strings.TrimSpace(req.TrackingNumber) == "" {
		sl.ReportError(req.TrackingNumber, "trackingNumber", "TrackingNumber", "required_when_shipped", "")
	}
}

// lookupStructValidation requires at least one lookup key.
func lookupStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(LookupRequest)
	if strings.TrimSpace(req.Email) == "" && strings.TrimSpace(req.OrderReference) == "" {
		sl.ReportError(req.Email, "email", "Email", "email_or_reference", "")
	}
}
