// Package dynamotest provides an in-memory DynamoDB stand-in for unit tests.
//
// It understands the subset of expression syntax the stores in this module emit:
// conditions built from attribute_exists, attribute_not_exists, =, <> and IN joined
// by AND/OR (no nested parentheses), SET/REMOVE update expressions, and equality key
// conditions on a table or a global secondary index.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type index struct {
	hash string
	rng  string
}

type table struct {
	key     string
	items   map[string]map[string]types.AttributeValue
	indexes map[string]index
}

// Fake is a concurrency-safe in-memory DynamoDB.
type Fake struct {
	mu     sync.Mutex
	tables map[string]*table
	errs   map[string][]error

	Calls map[string]int
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		tables: map[string]*table{},
		errs:   map[string][]error{},
		Calls:  map[string]int{},
	}
}

// AddTable registers a table whose partition key is keyAttr.
func (f *Fake) AddTable(name, keyAttr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[name] = &table{
		key:     keyAttr,
		items:   map[string]map[string]types.AttributeValue{},
		indexes: map[string]index{},
	}
}

// AddIndex registers a global secondary index on a table. rangeAttr may be empty.
func (f *Fake) AddIndex(tableName, indexName, hashAttr, rangeAttr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mustTable(tableName).indexes[indexName] = index{hash: hashAttr, rng: rangeAttr}
}

// FailNext makes the next call to op (e.g. "UpdateItem") return err.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = append(f.errs[op], err)
}

// Seed writes item unconditionally.
func (f *Fake) Seed(tableName string, item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.mustTable(tableName)
	k, err := keyOf(t.key, item)
	if err != nil {
		panic(err)
	}
	t.items[k] = copyItem(item)
}

// Item returns a copy of the stored item, or nil.
func (f *Fake) Item(tableName, key string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.mustTable(tableName).items[key]
	if !ok {
		return nil
	}
	return copyItem(item)
}

// Len returns the number of items stored in a table.
func (f *Fake) Len(tableName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mustTable(tableName).items)
}

func (f *Fake) mustTable(name string) *table {
	t, ok := f.tables[name]
	if !ok {
		panic(fmt.Sprintf("dynamotest: unknown table %q", name))
	}
	return t
}

func (f *Fake) enter(op string) error {
	f.Calls[op]++
	if q := f.errs[op]; len(q) > 0 {
		f.errs[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PutItem"); err != nil {
		return nil, err
	}
	t := f.mustTable(*in.TableName)
	k, err := keyOf(t.key, in.Item)
	if err != nil {
		return nil, err
	}
	ok, err := check(in.ConditionExpression, t.items[k], in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	t.items[k] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetItem"); err != nil {
		return nil, err
	}
	t := f.mustTable(*in.TableName)
	k, err := keyOf(t.key, in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateItem"); err != nil {
		return nil, err
	}
	t := f.mustTable(*in.TableName)
	k, err := keyOf(t.key, in.Key)
	if err != nil {
		return nil, err
	}
	current := t.items[k]
	ok, err := check(in.ConditionExpression, current, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	next, err := applyUpdate(current, in.Key, deref(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	t.items[k] = next
	return &dyn.UpdateItemOutput{Attributes: copyItem(next)}, nil
}

func (f *Fake) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Query"); err != nil {
		return nil, err
	}
	t := f.mustTable(*in.TableName)
	idx := index{hash: t.key}
	if in.IndexName != nil {
		var ok bool
		idx, ok = t.indexes[*in.IndexName]
		if !ok {
			return nil, fmt.Errorf("dynamotest: unknown index %q", *in.IndexName)
		}
	}

	lhs, rhs, ok := strings.Cut(deref(in.KeyConditionExpression), " = ")
	if !ok {
		return nil, fmt.Errorf("dynamotest: unsupported key condition %q", deref(in.KeyConditionExpression))
	}
	attr := resolveName(strings.TrimSpace(lhs), in.ExpressionAttributeNames)
	if attr != idx.hash {
		return nil, fmt.Errorf("dynamotest: key condition on %q, index hash is %q", attr, idx.hash)
	}
	want, ok := in.ExpressionAttributeValues[strings.TrimSpace(rhs)]
	if !ok {
		return nil, fmt.Errorf("dynamotest: missing value %s", rhs)
	}

	var out []map[string]types.AttributeValue
	for _, item := range t.items {
		if v, ok := item[idx.hash]; ok && equal(v, want) {
			out = append(out, copyItem(item))
		}
	}
	if idx.rng != "" {
		forward := in.ScanIndexForward == nil || *in.ScanIndexForward
		sort.SliceStable(out, func(i, j int) bool {
			a, b := sortKey(out[i][idx.rng]), sortKey(out[j][idx.rng])
			if forward {
				return a < b
			}
			return a > b
		})
	}
	if in.Limit != nil && int(*in.Limit) < len(out) {
		out = out[:*in.Limit]
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("TransactWriteItems"); err != nil {
		return nil, err
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, it := range in.TransactItems {
		var (
			ok  bool
			err error
		)
		switch {
		case it.Put != nil:
			t := f.mustTable(*it.Put.TableName)
			k, kerr := keyOf(t.key, it.Put.Item)
			if kerr != nil {
				return nil, kerr
			}
			ok, err = check(it.Put.ConditionExpression, t.items[k], it.Put.ExpressionAttributeNames, it.Put.ExpressionAttributeValues)
		case it.Update != nil:
			t := f.mustTable(*it.Update.TableName)
			k, kerr := keyOf(t.key, it.Update.Key)
			if kerr != nil {
				return nil, kerr
			}
			ok, err = check(it.Update.ConditionExpression, t.items[k], it.Update.ExpressionAttributeNames, it.Update.ExpressionAttributeValues)
		case it.ConditionCheck != nil:
			t := f.mustTable(*it.ConditionCheck.TableName)
			k, kerr := keyOf(t.key, it.ConditionCheck.Key)
			if kerr != nil {
				return nil, kerr
			}
			ok, err = check(it.ConditionCheck.ConditionExpression, t.items[k], it.ConditionCheck.ExpressionAttributeNames, it.ConditionCheck.ExpressionAttributeValues)
		case it.Delete != nil:
			t := f.mustTable(*it.Delete.TableName)
			k, kerr := keyOf(t.key, it.Delete.Key)
			if kerr != nil {
				return nil, kerr
			}
			ok, err = check(it.Delete.ConditionExpression, t.items[k], it.Delete.ExpressionAttributeNames, it.Delete.ExpressionAttributeValues)
		default:
			return nil, errors.New("dynamotest: empty transact item")
		}
		if err != nil {
			return nil, err
		}
		if ok {
			reasons[i] = types.CancellationReason{Code: strPtr("None")}
		} else {
			failed = true
			reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed"), Message: strPtr("The conditional request failed")}
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	for _, it := range in.TransactItems {
		switch {
		case it.Put != nil:
			t := f.tables[*it.Put.TableName]
			k, _ := keyOf(t.key, it.Put.Item)
			t.items[k] = copyItem(it.Put.Item)
		case it.Update != nil:
			t := f.tables[*it.Update.TableName]
			k, _ := keyOf(t.key, it.Update.Key)
			next, err := applyUpdate(t.items[k], it.Update.Key, deref(it.Update.UpdateExpression), it.Update.ExpressionAttributeNames, it.Update.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			t.items[k] = next
		case it.Delete != nil:
			t := f.tables[*it.Delete.TableName]
			k, _ := keyOf(t.key, it.Delete.Key)
			delete(t.items, k)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// check evaluates a condition expression against item (nil when absent).
func check(expr *string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	for _, disj := range strings.Split(*expr, " OR ") {
		all := true
		for _, term := range strings.Split(disj, " AND ") {
			ok, err := evalTerm(strings.TrimSpace(term), item, names, values)
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

func evalTerm(term string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if arg, ok := fnArg(term, "attribute_not_exists"); ok {
		_, exists := item[resolveName(arg, names)]
		return !exists, nil
	}
	if arg, ok := fnArg(term, "attribute_exists"); ok {
		_, exists := item[resolveName(arg, names)]
		return exists, nil
	}
	if lhs, rhs, ok := strings.Cut(term, " IN "); ok {
		got, exists := item[resolveName(strings.TrimSpace(lhs), names)]
		if !exists {
			return false, nil
		}
		list := strings.Trim(strings.TrimSpace(rhs), "()")
		for _, ph := range strings.Split(list, ",") {
			want, ok := values[strings.TrimSpace(ph)]
			if !ok {
				return false, fmt.Errorf("dynamotest: missing value %s", ph)
			}
			if equal(got, want) {
				return true, nil
			}
		}
		return false, nil
	}
	for _, op := range []string{" <> ", " = "} {
		lhs, rhs, ok := strings.Cut(term, op)
		if !ok {
			continue
		}
		want, ok := values[strings.TrimSpace(rhs)]
		if !ok {
			return false, fmt.Errorf("dynamotest: missing value %s", rhs)
		}
		got, exists := item[resolveName(strings.TrimSpace(lhs), names)]
		eq := exists && equal(got, want)
		if op == " = " {
			return eq, nil
		}
		return exists && !eq, nil
	}
	return false, fmt.Errorf("dynamotest: unsupported condition %q", term)
}

func fnArg(term, fn string) (string, bool) {
	if !strings.HasPrefix(term, fn+"(") || !strings.HasSuffix(term, ")") {
		return "", false
	}
	return strings.TrimSpace(term[len(fn)+1 : len(term)-1]), true
}

func applyUpdate(current, key map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	next := copyItem(current)
	if next == nil {
		next = copyItem(key)
	}
	expr = strings.TrimSpace(expr)
	setPart, removePart := expr, ""
	if i := strings.Index(expr, " REMOVE "); i >= 0 {
		setPart, removePart = expr[:i], expr[i+len(" REMOVE "):]
	} else if strings.HasPrefix(expr, "REMOVE ") {
		setPart, removePart = "", strings.TrimPrefix(expr, "REMOVE ")
	}

	if setPart != "" {
		if !strings.HasPrefix(setPart, "SET ") {
			return nil, fmt.Errorf("dynamotest: unsupported update %q", expr)
		}
		for _, assign := range strings.Split(strings.TrimPrefix(setPart, "SET "), ",") {
			lhs, rhs, ok := strings.Cut(assign, "=")
			if !ok {
				return nil, fmt.Errorf("dynamotest: bad assignment %q", assign)
			}
			v, ok := values[strings.TrimSpace(rhs)]
			if !ok {
				return nil, fmt.Errorf("dynamotest: missing value %s", rhs)
			}
			next[resolveName(strings.TrimSpace(lhs), names)] = v
		}
	}
	if removePart != "" {
		for _, attr := range strings.Split(removePart, ",") {
			delete(next, resolveName(strings.TrimSpace(attr), names))
		}
	}
	return next, nil
}

func resolveName(n string, names map[string]string) string {
	if strings.HasPrefix(n, "#") {
		if v, ok := names[n]; ok {
			return v
		}
	}
	return n
}

func keyOf(attr string, item map[string]types.AttributeValue) (string, error) {
	v, ok := item[attr].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamotest: missing string key %q", attr)
	}
	return v.Value, nil
}

func equal(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		x, err1 := strconv.ParseFloat(av.Value, 64)
		y, err2 := strconv.ParseFloat(bv.Value, 64)
		return err1 == nil && err2 == nil && x == y
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	default:
		return reflect.DeepEqual(a, b)
	}
}

func sortKey(v types.AttributeValue) string {
	switch av := v.(type) {
	case *types.AttributeValueMemberS:
		return av.Value
	case *types.AttributeValueMemberN:
		return fmt.Sprintf("%030s", av.Value)
	}
	return ""
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }
