package validation

// CartItemMetadata is the closed set of item attributes the storefront sends.
type CartItemMetadata struct {
	Category string `json:"category,omitempty" validate:"omitempty,max=64"`
	Type     string `json:"type,omitempty" validate:"omitempty,oneof=physical digital"` // empty means physical
	Size     string `json:"size,omitempty" validate:"omitempty,max=32"`
}

// CartItem is one line of the cart.
type CartItem struct {
	ID       string            `json:"id" validate:"required"`
	Name     string            `json:"name" validate:"required,max=200"`
	Price    float64           `json:"price" validate:"gte=0"`
	Quantity int               `json:"quantity" validate:"required,min=1,max=99"`
	Image    string            `json:"image,omitempty" validate:"omitempty,url"`
	Metadata *CartItemMetadata `json:"metadata,omitempty"`
}

// CheckoutRequest is the payload for POST /api/stripe/checkout
type CheckoutRequest struct {
	Items         []CartItem `json:"items" validate:"required,min=1,max=50,dive"`
	CustomerEmail string     `json:"customerEmail,omitempty" validate:"omitempty,email"`
}

// StatusUpdateRequest is the payload for POST /api/stripe/order/status.
// OrderID accepts either the store id or the order reference.
type StatusUpdateRequest struct {
	OrderID        string `json:"orderId" validate:"required"`
	Status         string `json:"status" validate:"required,oneof=pending processing shipped delivered cancelled"`
	SessionID      string `json:"sessionId,omitempty"`
	TrackingNumber string `json:"trackingNumber,omitempty" validate:"omitempty,max=64"`
	TrackingURL    string `json:"trackingUrl,omitempty" validate:"omitempty,url"`
	Carrier        string `json:"carrier,omitempty" validate:"omitempty,max=64"`
}

// LookupRequest is the payload for POST /api/orders/lookup
type LookupRequest struct {
	Email          string `json:"email,omitempty" validate:"omitempty,email"`
	OrderReference string `json:"orderReference,omitempty"`
}

// EmailActionRequest is the payload for the email server actions.
type EmailActionRequest struct {
	OrderReference string `json:"orderReference" validate:"required"`
}
