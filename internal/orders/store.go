package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
)

const (
	recordTypeOrder     = "order"
	recordTypeReference = "reference"
	referencePrefix     = "ref#"

	// EmailIndex is the GSI on customer_email (range key created_at).
	EmailIndex = "customer_email-index"
)

var (
	// ErrStatusMismatch is returned when a conditional status update loses a race.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrDuplicateReference is returned when the order reference is already claimed.
	ErrDuplicateReference = errors.New("order reference already exists")
	// ErrSessionConflict is returned when a different payment session is already attached.
	ErrSessionConflict = errors.New("a different payment session is already attached")
	// ErrAlreadyClaimed is returned when a side-effect flag was set by someone else.
	ErrAlreadyClaimed = errors.New("already claimed")
	// ErrNotFound is returned by updates addressed at an order that does not exist.
	ErrNotFound = errors.New("order not found")
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
	newID     func() string
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
}

// Create persists a new order together with the claim on its reference in one
// TransactWriteItems call. OrderID, timestamps and the initial status are filled
// in when empty. Returns ErrDuplicateReference if the reference is taken.
func (s *Store) Create(ctx context.Context, o *Order) error {
	if o.OrderReference == "" {
		return errors.New("order reference is required")
	}
	if o.OrderID == "" {
		o.OrderID = s.newID()
	}
	now := s.nowFunc().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.RecordType = recordTypeOrder
	if o.Status == "" {
		o.Status = StatusPending
	}
	o.CustomerEmail = NormalizeEmail(o.CustomerEmail)

	orderMap, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}
	// created_at is the email index range key and must sort as a string
	orderMap["created_at"] = &types.AttributeValueMemberS{Value: formatTime(o.CreatedAt)}
	claimMap, err := attributevalue.MarshalMap(referenceClaim{
		OrderID:    referencePrefix + o.OrderReference,
		RecordType: recordTypeReference,
		TargetID:   o.OrderID,
		CreatedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("marshal reference claim: %w", err)
	}

	input := &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                orderMap,
					ConditionExpression: awsString("attribute_not_exists(order_id)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                claimMap,
					ConditionExpression: awsString("attribute_not_exists(order_id)"),
				},
			},
		},
	}

	_, err = s.client.TransactWriteItems(ctx, input)
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			if conditionFailed(tce, 1) {
				return ErrDuplicateReference
			}
			return fmt.Errorf("transaction canceled: %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	if o.RecordType != recordTypeOrder {
		return nil, nil
	}
	return &o, nil
}

// GetByReference resolves an order through its reference claim. Returns (nil, nil)
// if the reference is unknown.
func (s *Store) GetByReference(ctx context.Context, reference string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(referencePrefix + reference),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get reference: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var claim referenceClaim
	if err := attributevalue.UnmarshalMap(out.Item, &claim); err != nil {
		return nil, fmt.Errorf("unmarshal reference: %w", err)
	}
	return s.Get(ctx, claim.TargetID)
}

// ListByEmail returns the customer's orders, newest first.
func (s *Store) ListByEmail(ctx context.Context, email string, limit int32) ([]Order, error) {
	input := &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(EmailIndex),
		KeyConditionExpression: awsString("customer_email = :e"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":e": &types.AttributeValueMemberS{Value: NormalizeEmail(email)},
		},
		ScanIndexForward: awsBool(false),
	}
	if limit > 0 {
		input.Limit = &limit
	}

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("query by email: %w", err)
	}
	result := make([]Order, 0, len(out.Items))
	for _, item := range out.Items {
		var o Order
		if err := attributevalue.UnmarshalMap(item, &o); err != nil {
			return nil, fmt.Errorf("unmarshal order: %w", err)
		}
		if o.RecordType == recordTypeOrder {
			result = append(result, o)
		}
	}
	return result, nil
}

// AttachSession records the payment session id. Repeating the call with the same
// id succeeds; a different id already on the order yields ErrSessionConflict.
// A non-empty email overwrites customer_email.
func (s *Store) AttachSession(ctx context.Context, orderID, sessionID, email string) (*Order, error) {
	expr := "SET stripe_session_id = :sid, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":sid": &types.AttributeValueMemberS{Value: sessionID},
		":ua":  s.timestamp(),
	}
	if email = NormalizeEmail(email); email != "" {
		expr += ", customer_email = :em"
		values[":em"] = &types.AttributeValueMemberS{Value: email}
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       orderKey(orderID),
		UpdateExpression:          &expr,
		ExpressionAttributeValues: values,
		ConditionExpression:       awsString("attribute_exists(order_id) AND attribute_not_exists(stripe_session_id) OR stripe_session_id = :sid"),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			current, gerr := s.Get(ctx, orderID)
			if gerr != nil {
				return nil, gerr
			}
			if current == nil {
				return nil, ErrNotFound
			}
			return current, ErrSessionConflict
		}
		return nil, fmt.Errorf("attach session: %w", err)
	}
	return decodeOrder(out.Attributes)
}

// UpdateEmail overwrites customer_email.
func (s *Store) UpdateEmail(ctx context.Context, orderID, email string) (*Order, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              orderKey(orderID),
		UpdateExpression: awsString("SET customer_email = :em, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":em": &types.AttributeValueMemberS{Value: NormalizeEmail(email)},
			":ua": s.timestamp(),
		},
		ConditionExpression: awsString("attribute_exists(order_id)"),
		ReturnValues:        types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update email: %w", err)
	}
	return decodeOrder(out.Attributes)
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// Tracking fields are written when moving to shipped.
// Returns ErrStatusMismatch if the stored status is no longer expected.
func (s *Store) UpdateStatus(ctx context.Context, orderID string, expected, newStatus Status, tracking *Tracking) (*Order, error) {
	updateExpr := "SET #s = :new, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":new":      &types.AttributeValueMemberS{Value: string(newStatus)},
		":expected": &types.AttributeValueMemberS{Value: string(expected)},
		":ua":       s.timestamp(),
	}
	if newStatus == StatusShipped && tracking != nil {
		if tracking.Number != "" {
			updateExpr += ", tracking_number = :tn"
			values[":tn"] = &types.AttributeValueMemberS{Value: tracking.Number}
		}
		if tracking.URL != "" {
			updateExpr += ", tracking_url = :tu"
			values[":tu"] = &types.AttributeValueMemberS{Value: tracking.URL}
		}
		if tracking.Carrier != "" {
			updateExpr += ", carrier = :ca"
			values[":ca"] = &types.AttributeValueMemberS{Value: tracking.Carrier}
		}
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       orderKey(orderID),
		UpdateExpression:          &updateExpr,
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ConditionExpression:       awsString("#s = :expected"),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return nil, ErrStatusMismatch
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	return decodeOrder(out.Attributes)
}

// ClaimEmail flips the sent flag for kind. Exactly one caller wins; the others
// get ErrAlreadyClaimed.
func (s *Store) ClaimEmail(ctx context.Context, orderID string, kind EmailKind) error {
	attr := kind.flagAttr()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              orderKey(orderID),
		UpdateExpression: awsString("SET #f = :true, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#f": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":  &types.AttributeValueMemberBOOL{Value: true},
			":false": &types.AttributeValueMemberBOOL{Value: false},
			":ua":    s.timestamp(),
		},
		ConditionExpression: awsString("attribute_exists(order_id) AND attribute_not_exists(#f) OR #f = :false"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyClaimed
		}
		return fmt.Errorf("claim %s email: %w", kind, err)
	}
	return nil
}

// ReleaseEmail clears the sent flag after a failed send so a later attempt can retry.
func (s *Store) ReleaseEmail(ctx context.Context, orderID string, kind EmailKind) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              orderKey(orderID),
		UpdateExpression: awsString("SET #f = :false, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#f": kind.flagAttr(),
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":false": &types.AttributeValueMemberBOOL{Value: false},
			":ua":    s.timestamp(),
		},
		ConditionExpression: awsString("attribute_exists(order_id)"),
	})
	if err != nil {
		return fmt.Errorf("release %s email: %w", kind, err)
	}
	return nil
}

// StockFlagItem is the transaction member that marks the order's stock as
// decremented. It fails its condition when the flag is already set, which lets
// the caller fold the guard and the inventory writes into one transaction.
func (s *Store) StockFlagItem(orderID string) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:        &s.tableName,
			Key:              orderKey(orderID),
			UpdateExpression: awsString("SET stock_decremented = :true, updated_at = :ua"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":true":  &types.AttributeValueMemberBOOL{Value: true},
				":false": &types.AttributeValueMemberBOOL{Value: false},
				":ua":    s.timestamp(),
			},
			ConditionExpression: awsString("attribute_exists(order_id) AND attribute_not_exists(stock_decremented) OR stock_decremented = :false"),
		},
	}
}

func (s *Store) timestamp() types.AttributeValue {
	return &types.AttributeValueMemberS{Value: formatTime(s.nowFunc())}
}

// timeLayout keeps every fraction digit so stored timestamps compare as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// NormalizeEmail trims and lower-cases an address so lookups match regardless
// of how the customer typed it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func decodeOrder(item map[string]types.AttributeValue) (*Order, error) {
	var o Order
	if err := attributevalue.UnmarshalMap(item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// conditionFailed reports whether the transaction member at idx failed its condition.
func conditionFailed(tce *types.TransactionCanceledException, idx int) bool {
	if idx >= len(tce.CancellationReasons) {
		return false
	}
	code := tce.CancellationReasons[idx].Code
	return code != nil && *code == "ConditionalCheckFailed"
}

func orderKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: id},
	}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
