// Package stock decrements product inventory once per paid order.
package stock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

// LowStockThreshold is the level below which a product is reported as low.
const LowStockThreshold = 5

const (
	defaultMaxAttempts = 3
	// one slot is taken by the order flag
	maxProductsPerTxn = 99
)

// ErrContention is returned when concurrent stock writes kept invalidating the
// transaction until the attempts ran out.
var ErrContention = errors.New("stock update contention")

// Product is the part of a products table item the adjuster reads.
type Product struct {
	ProductID string `dynamodbav:"product_id"`
	Name      string `dynamodbav:"name"`
	Stock     *int   `dynamodbav:"stock"`
}

// ItemError describes an order line that could not be applied.
type ItemError struct {
	ProductID string `json:"productId"`
	Reason    string `json:"reason"`
}

// Change is one applied stock movement.
type Change struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Before    int    `json:"before"`
	After     int    `json:"after"`
	Clamped   bool   `json:"clamped"`
}

// Result reports the outcome of ApplyOrder. Success is false when any line
// produced an ItemError; the other lines are still applied.
type Result struct {
	Success        bool        `json:"success"`
	AlreadyApplied bool        `json:"alreadyApplied"`
	Changes        []Change    `json:"changes,omitempty"`
	Errors         []ItemError `json:"errors,omitempty"`
}

// Adjuster applies order quantities to the products table.
type Adjuster struct {
	client      aws.DynamoDBAPI
	tableName   string
	orders      *orders.Store
	metrics     *aws.Metrics
	maxAttempts int
	nowFunc     func() time.Time
}

// NewAdjuster creates an Adjuster. metrics may be nil.
func NewAdjuster(client aws.DynamoDBAPI, tableName string, orderStore *orders.Store, metrics *aws.Metrics) *Adjuster {
	return &Adjuster{
		client:      client,
		tableName:   tableName,
		orders:      orderStore,
		metrics:     metrics,
		maxAttempts: defaultMaxAttempts,
		nowFunc:     time.Now,
	}
}

// ApplyOrder decrements stock for every line of o, clamped at zero, in one
// transaction that also sets the order's stock_decremented flag. If the flag is
// already set the call is a no-op and reports AlreadyApplied.
func (a *Adjuster) ApplyOrder(ctx context.Context, o *orders.Order) (*Result, error) {
	if o.StockDecremented {
		return &Result{Success: true, AlreadyApplied: true}, nil
	}

	wanted, itemErrs := quantities(o.Items)

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		res := &Result{Errors: append([]ItemError(nil), itemErrs...)}

		txn := []types.TransactWriteItem{a.orders.StockFlagItem(o.OrderID)}
		for _, id := range sortedKeys(wanted) {
			p, err := a.getProduct(ctx, id)
			if err != nil {
				return nil, err
			}
			if p == nil {
				res.Errors = append(res.Errors, ItemError{ProductID: id, Reason: "product not found"})
				continue
			}
			if p.Stock == nil {
				res.Errors = append(res.Errors, ItemError{ProductID: id, Reason: "product has no stock count"})
				continue
			}

			before := *p.Stock
			after := before - wanted[id]
			clamped := after < 0
			if clamped {
				after = 0
			}
			res.Changes = append(res.Changes, Change{ProductID: id, Name: p.Name, Before: before, After: after, Clamped: clamped})
			if after != before {
				txn = append(txn, a.stockUpdate(id, before, after))
			}
		}
		if len(txn) > maxProductsPerTxn+1 {
			return nil, fmt.Errorf("order %s touches %d products, limit is %d", o.OrderID, len(txn)-1, maxProductsPerTxn)
		}

		_, err := a.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: txn})
		if err == nil {
			res.Success = len(res.Errors) == 0
			a.report(ctx, o, res)
			return res, nil
		}

		var tce *types.TransactionCanceledException
		if !errors.As(err, &tce) {
			return nil, fmt.Errorf("transact stock update: %w", err)
		}
		if conditionFailed(tce, 0) {
			log.Printf("[stock] order=%s already applied", o.OrderID)
			return &Result{Success: true, AlreadyApplied: true}, nil
		}
		log.Printf("[stock] order=%s attempt=%d stock changed concurrently, retrying", o.OrderID, attempt)
	}
	return nil, fmt.Errorf("order %s: %w", o.OrderID, ErrContention)
}

func (a *Adjuster) getProduct(ctx context.Context, id string) (*Product, error) {
	out, err := a.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &a.tableName,
		Key:            productKey(id),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product %s: %w", id, err)
	}
	return &p, nil
}

func (a *Adjuster) stockUpdate(id string, before, after int) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:        &a.tableName,
			Key:              productKey(id),
			UpdateExpression: awsString("SET stock = :new, updated_at = :ua"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":new":  &types.AttributeValueMemberN{Value: strconv.Itoa(after)},
				":prev": &types.AttributeValueMemberN{Value: strconv.Itoa(before)},
				":ua":   &types.AttributeValueMemberS{Value: a.nowFunc().UTC().Format(time.RFC3339Nano)},
			},
			ConditionExpression: awsString("stock = :prev"),
		},
	}
}

func (a *Adjuster) report(ctx context.Context, o *orders.Order, res *Result) {
	for _, c := range res.Changes {
		if c.Clamped {
			log.Printf("[stock] order=%s product=%s requested more than available (%d), clamped to 0", o.OrderID, c.ProductID, c.Before)
		}
		switch {
		case c.After == 0:
			log.Printf("[stock] product=%s name=%q is out of stock", c.ProductID, c.Name)
			a.metrics.Count(ctx, "OutOfStock", 1, "ProductId", c.ProductID)
		case c.After < LowStockThreshold:
			log.Printf("[stock] product=%s name=%q low stock: %d left", c.ProductID, c.Name, c.After)
			a.metrics.Count(ctx, "LowStock", 1, "ProductId", c.ProductID)
		}
	}
	for _, e := range res.Errors {
		log.Printf("[stock] order=%s product=%s skipped: %s", o.OrderID, e.ProductID, e.Reason)
	}
}

// quantities sums quantities per product and rejects invalid lines.
func quantities(items []orders.OrderItem) (map[string]int, []ItemError) {
	wanted := map[string]int{}
	var errs []ItemError
	for _, it := range items {
		switch {
		case it.ID == "":
			errs = append(errs, ItemError{Reason: "missing product id"})
		case it.Quantity <= 0:
			errs = append(errs, ItemError{ProductID: it.ID, Reason: "quantity must be positive"})
		default:
			wanted[it.ID] += it.Quantity
		}
	}
	return wanted, errs
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func conditionFailed(tce *types.TransactionCanceledException, idx int) bool {
	if idx >= len(tce.CancellationReasons) {
		return false
	}
	code := tce.CancellationReasons[idx].Code
	return code != nil && *code == "ConditionalCheckFailed"
}

func productKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberS{Value: id},
	}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
