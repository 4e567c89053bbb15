package orders

import "time"

// Status is the lifecycle state of an order.
type Status string

// Order statuses
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// forward order of the non-terminal statuses
var statusRank = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusShipped:    2,
	StatusDelivered:  3,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// AtLeast reports whether s has reached other in the forward sequence.
// Cancelled orders have reached nothing.
func (s Status) AtLeast(other Status) bool {
	sr, ok1 := statusRank[s]
	or, ok2 := statusRank[other]
	return ok1 && ok2 && sr >= or
}

// CanAdvance reports whether an order may move from -> to. Only strictly forward
// moves are allowed, plus cancellation of any order that is not already cancelled.
func CanAdvance(from, to Status) bool {
	if from == StatusCancelled {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	return ok1 && ok2 && tr > fr
}

// EmailKind identifies a transactional email that is sent at most once per order.
type EmailKind string

const (
	EmailConfirmation EmailKind = "confirmation"
	EmailShipping     EmailKind = "shipping"
)

func (k EmailKind) flagAttr() string {
	return string(k) + "_email_sent"
}

// ItemMetadata is the closed set of per-item attributes carried from the cart
// into the order. EncodedName and RefCode are filled in at checkout.
type ItemMetadata struct {
	Category    string `dynamodbav:"category,omitempty" json:"category,omitempty"`
	Type        string `dynamodbav:"type,omitempty" json:"type,omitempty"`
	Size        string `dynamodbav:"size,omitempty" json:"size,omitempty"`
	EncodedName string `dynamodbav:"encoded_name,omitempty" json:"encodedName,omitempty"`
	RefCode     string `dynamodbav:"ref_code,omitempty" json:"refCode,omitempty"`
}

// RequiresShipping reports whether the item is physically delivered.
func (m ItemMetadata) RequiresShipping() bool {
	return m.Type != "digital"
}

// OrderItem is one line of an order. Set once at creation.
type OrderItem struct {
	ID       string       `dynamodbav:"id" json:"id"`
	Name     string       `dynamodbav:"name" json:"name"`
	Price    float64      `dynamodbav:"price" json:"price"`
	Quantity int          `dynamodbav:"quantity" json:"quantity"`
	Image    string       `dynamodbav:"image,omitempty" json:"image,omitempty"`
	Metadata ItemMetadata `dynamodbav:"metadata" json:"metadata"`
}

// MappedProduct is the decode entry for one encoded product name.
type MappedProduct struct {
	OriginalID   string       `dynamodbav:"original_id" json:"originalId"`
	OriginalName string       `dynamodbav:"original_name" json:"originalName"`
	RefCode      string       `dynamodbav:"ref_code" json:"refCode"`
	Metadata     ItemMetadata `dynamodbav:"metadata" json:"metadata"`
}

// ProductMapping maps encoded display names to the products they stand for.
// Written once at creation.
type ProductMapping map[string]MappedProduct

// Tracking is the shipment information recorded on transition to shipped.
type Tracking struct {
	Number  string
	URL     string
	Carrier string
}

// Order represents the item stored in the orders DynamoDB table.
type Order struct {
	OrderID        string         `dynamodbav:"order_id" json:"id"` // PK
	RecordType     string         `dynamodbav:"record_type" json:"-"`
	OrderReference string         `dynamodbav:"order_reference" json:"orderReference"`
	Items          []OrderItem    `dynamodbav:"items" json:"items"`
	TotalAmount    float64        `dynamodbav:"total_amount" json:"totalAmount"`
	Status         Status         `dynamodbav:"status" json:"status"`
	ProductMapping ProductMapping `dynamodbav:"product_mapping,omitempty" json:"productMapping,omitempty"`

	StripeSessionID string   `dynamodbav:"stripe_session_id,omitempty" json:"stripeSessionId,omitempty"`
	CustomerEmail   string   `dynamodbav:"customer_email,omitempty" json:"customerEmail,omitempty"` // GSI hash
	TrackingNumber  string   `dynamodbav:"tracking_number,omitempty" json:"trackingNumber,omitempty"`
	TrackingURL     string   `dynamodbav:"tracking_url,omitempty" json:"trackingUrl,omitempty"`
	Carrier         string   `dynamodbav:"carrier,omitempty" json:"carrier,omitempty"`
	Discount        *float64 `dynamodbav:"discount,omitempty" json:"discount,omitempty"`

	// side-effect guards, each flipped exactly once by a conditional write
	StockDecremented      bool `dynamodbav:"stock_decremented" json:"stockDecremented"`
	ConfirmationEmailSent bool `dynamodbav:"confirmation_email_sent" json:"confirmationEmailSent"`
	ShippingEmailSent     bool `dynamodbav:"shipping_email_sent" json:"shippingEmailSent"`

	CreatedAt time.Time `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updatedAt"`
}

// EmailSent reports whether the email of the given kind has been claimed.
func (o *Order) EmailSent(kind EmailKind) bool {
	switch kind {
	case EmailConfirmation:
		return o.ConfirmationEmailSent
	case EmailShipping:
		return o.ShippingEmailSent
	}
	return false
}

// referenceClaim reserves an order reference. It lives in the orders table under
// "ref#<reference>" so the reservation and the order are written in one transaction.
type referenceClaim struct {
	OrderID    string    `dynamodbav:"order_id"`
	RecordType string    `dynamodbav:"record_type"`
	TargetID   string    `dynamodbav:"target_id"`
	CreatedAt  time.Time `dynamodbav:"created_at"`
}
