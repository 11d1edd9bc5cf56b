// Package awstest provides in-memory stand-ins for the narrow AWS client
// interfaces, good enough to exercise conditional writes in package tests.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Dynamo keeps items per table keyed by the table's partition key attribute.
// Condition and update expressions are limited to what the stores emit:
// attribute_(not_)exists(x), "lhs = :v" clauses joined by AND, and plain
// "SET a = :x, #b = :y" assignments.
type Dynamo struct {
	mu     sync.Mutex
	keys   map[string]string
	tables map[string]map[string]map[string]types.AttributeValue
	calls  map[string]int
	fail   map[string]error
}

func NewDynamo() *Dynamo {
	return &Dynamo{
		keys:   map[string]string{},
		tables: map[string]map[string]map[string]types.AttributeValue{},
		calls:  map[string]int{},
		fail:   map[string]error{},
	}
}

// CreateTable registers a table and its partition key attribute name.
func (d *Dynamo) CreateTable(name, keyAttr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[name] = keyAttr
	if _, ok := d.tables[name]; !ok {
		d.tables[name] = map[string]map[string]types.AttributeValue{}
	}
}

// FailNext makes the next call of op ("PutItem", "GetItem", ...) return err.
func (d *Dynamo) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[op] = err
}

// Calls reports how many times op was invoked.
func (d *Dynamo) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Item returns a copy of the stored item, or nil.
func (d *Dynamo) Item(table, key string) map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	item, ok := d.tables[table][key]
	if !ok {
		return nil
	}
	return copyItem(item)
}

// Len reports the number of items in table.
func (d *Dynamo) Len(table string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tables[table])
}

func (d *Dynamo) enter(op string) error {
	d.calls[op]++
	if err, ok := d.fail[op]; ok {
		delete(d.fail, op)
		return err
	}
	return nil
}

func (d *Dynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("PutItem"); err != nil {
		return nil, err
	}
	table, pk, err := d.itemKey(in.TableName, in.Item)
	if err != nil {
		return nil, err
	}
	current := d.tables[table][pk]
	if in.ConditionExpression != nil {
		ok, err := evalCondition(*in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
		}
	}
	d.tables[table][pk] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("GetItem"); err != nil {
		return nil, err
	}
	table, pk, err := d.itemKey(in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := d.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (d *Dynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("UpdateItem"); err != nil {
		return nil, err
	}
	table, pk, err := d.itemKey(in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	current := d.tables[table][pk]
	if in.ConditionExpression != nil {
		ok, err := evalCondition(*in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
		}
	}
	next := copyItem(current)
	if next == nil {
		next = copyItem(in.Key)
	}
	if in.UpdateExpression != nil {
		if err := applySet(*in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, next); err != nil {
			return nil, err
		}
	}
	d.tables[table][pk] = next
	return &dyn.UpdateItemOutput{Attributes: copyItem(next)}, nil
}

func (d *Dynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("TransactWriteItems"); err != nil {
		return nil, err
	}

	type write struct {
		table, pk string
		item      map[string]types.AttributeValue
	}
	writes := make([]write, 0, len(in.TransactItems))
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false

	for i, it := range in.TransactItems {
		p := it.Put
		if p == nil {
			return nil, errors.New("awstest: only Put is supported in transactions")
		}
		table, pk, err := d.itemKey(p.TableName, p.Item)
		if err != nil {
			return nil, err
		}
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		if p.ConditionExpression != nil {
			ok, err := evalCondition(*p.ConditionExpression, p.ExpressionAttributeNames, p.ExpressionAttributeValues, d.tables[table][pk])
			if err != nil {
				return nil, err
			}
			if !ok {
				failed = true
				reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
			}
		}
		writes = append(writes, write{table: table, pk: pk, item: p.Item})
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		d.tables[w.table][w.pk] = copyItem(w.item)
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (d *Dynamo) itemKey(tableName *string, item map[string]types.AttributeValue) (string, string, error) {
	if tableName == nil {
		return "", "", errors.New("awstest: missing table name")
	}
	table := *tableName
	keyAttr, ok := d.keys[table]
	if !ok {
		return "", "", fmt.Errorf("awstest: table %s not created", table)
	}
	v, ok := item[keyAttr]
	if !ok {
		return "", "", fmt.Errorf("awstest: item for %s has no %s", table, keyAttr)
	}
	switch kv := v.(type) {
	case *types.AttributeValueMemberS:
		return table, kv.Value, nil
	case *types.AttributeValueMemberN:
		return table, kv.Value, nil
	default:
		return "", "", fmt.Errorf("awstest: unsupported key type %T", v)
	}
}

func evalCondition(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	for _, clause := range strings.Split(expr, " AND ") {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
			attr := resolveName(clause[len("attribute_not_exists("):len(clause)-1], names)
			if _, ok := item[attr]; ok {
				return false, nil
			}
		case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
			attr := resolveName(clause[len("attribute_exists("):len(clause)-1], names)
			if _, ok := item[attr]; !ok {
				return false, nil
			}
		default:
			lhs, rhs, ok := strings.Cut(clause, "=")
			if !ok {
				return false, fmt.Errorf("awstest: unsupported condition %q", clause)
			}
			attr := resolveName(strings.TrimSpace(lhs), names)
			want, ok := values[strings.TrimSpace(rhs)]
			if !ok {
				return false, fmt.Errorf("awstest: missing value %s", strings.TrimSpace(rhs))
			}
			got, ok := item[attr]
			if !ok || !reflect.DeepEqual(got, want) {
				return false, nil
			}
		}
	}
	return true, nil
}

func applySet(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) error {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "SET ") {
		return fmt.Errorf("awstest: unsupported update %q", expr)
	}
	for _, assign := range strings.Split(expr[len("SET "):], ",") {
		lhs, rhs, ok := strings.Cut(assign, "=")
		if !ok {
			return fmt.Errorf("awstest: unsupported assignment %q", assign)
		}
		v, ok := values[strings.TrimSpace(rhs)]
		if !ok {
			return fmt.Errorf("awstest: missing value %s", strings.TrimSpace(rhs))
		}
		item[resolveName(strings.TrimSpace(lhs), names)] = v
	}
	return nil
}

func resolveName(n string, names map[string]string) string {
	if strings.HasPrefix(n, "#") {
		if real, ok := names[n]; ok {
			return real
		}
	}
	return n
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

func strPtr(s string) *string { return &s }
