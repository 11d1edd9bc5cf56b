package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-orderflow-realtime/internal/aws"
)

var (
	// ErrVersionMismatch means another writer updated the record after it was read.
	ErrVersionMismatch = errors.New("version mismatch/conditional failed")
	ErrAlreadyExists   = errors.New("record already exists")
)

// Store persists orders and their kitchen tickets. Every update is a full
// item put guarded by the version that was read, so concurrent writers
// cannot both win.
type Store struct {
	client       aws.DynamoDBAPI
	ordersTable  string
	kitchenTable string
	nowFunc      func() time.Time
}

func NewStore(client aws.DynamoDBAPI, ordersTable, kitchenTable string) *Store {
	return &Store{
		client:       client,
		ordersTable:  ordersTable,
		kitchenTable: kitchenTable,
		nowFunc:      time.Now,
	}
}

// CreateWithTicket writes a new order and its kitchen ticket in one transaction.
func (s *Store) CreateWithTicket(ctx context.Context, o *Order, k *KitchenOrder) error {
	now := s.nowFunc()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = now
	}
	o.UpdatedAt, k.UpdatedAt = now, now
	o.Version, k.Version = 1, 1

	orderMap, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	ticketMap, err := attributevalue.MarshalMap(k)
	if err != nil {
		return fmt.Errorf("marshal kitchen order: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           &s.ordersTable,
				Item:                orderMap,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			}},
			{Put: &types.Put{
				TableName:           &s.kitchenTable,
				Item:                ticketMap,
				ConditionExpression: awsString("attribute_not_exists(kitchen_order_id)"),
			}},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			for _, r := range tce.CancellationReasons {
				if r.Code != nil && *r.Code == "ConditionalCheckFailed" {
					return fmt.Errorf("create order %s: %w", o.OrderID, ErrAlreadyExists)
				}
			}
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// GetOrder returns (nil, nil) if the order does not exist.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	found, err := s.get(ctx, s.ordersTable, "order_id", orderID, &o)
	if err != nil || !found {
		return nil, err
	}
	return &o, nil
}

// GetKitchenOrder returns (nil, nil) if the ticket does not exist.
func (s *Store) GetKitchenOrder(ctx context.Context, kitchenOrderID string) (*KitchenOrder, error) {
	var k KitchenOrder
	found, err := s.get(ctx, s.kitchenTable, "kitchen_order_id", kitchenOrderID, &k)
	if err != nil || !found {
		return nil, err
	}
	return &k, nil
}

// SaveOrder writes o if nobody else wrote it since it was read, bumping its version.
func (s *Store) SaveOrder(ctx context.Context, o *Order) error {
	prev, prevUpdated := o.Version, o.UpdatedAt
	o.Version++
	o.UpdatedAt = s.nowFunc()
	if err := s.putVersioned(ctx, s.ordersTable, o, prev); err != nil {
		o.Version, o.UpdatedAt = prev, prevUpdated
		return err
	}
	return nil
}

func (s *Store) SaveKitchenOrder(ctx context.Context, k *KitchenOrder) error {
	prev, prevUpdated := k.Version, k.UpdatedAt
	k.Version++
	k.UpdatedAt = s.nowFunc()
	if err := s.putVersioned(ctx, s.kitchenTable, k, prev); err != nil {
		k.Version, k.UpdatedAt = prev, prevUpdated
		return err
	}
	return nil
}

// SaveWithTicket writes o and, when k is not nil, its ticket in one
// transaction. Both writes are guarded by the versions that were read.
func (s *Store) SaveWithTicket(ctx context.Context, o *Order, k *KitchenOrder) error {
	if k == nil {
		return s.SaveOrder(ctx, o)
	}
	prevO, prevOUpdated := o.Version, o.UpdatedAt
	prevK, prevKUpdated := k.Version, k.UpdatedAt
	now := s.nowFunc()
	o.Version, o.UpdatedAt = prevO+1, now
	k.Version, k.UpdatedAt = prevK+1, now

	err := s.transactVersioned(ctx,
		versionedPut{table: s.ordersTable, rec: o, expected: prevO},
		versionedPut{table: s.kitchenTable, rec: k, expected: prevK},
	)
	if err != nil {
		o.Version, o.UpdatedAt = prevO, prevOUpdated
		k.Version, k.UpdatedAt = prevK, prevKUpdated
		return err
	}
	return nil
}

type versionedPut struct {
	table    string
	rec      interface{}
	expected int64
}

func (s *Store) transactVersioned(ctx context.Context, puts ...versionedPut) error {
	items := make([]types.TransactWriteItem, 0, len(puts))
	for _, p := range puts {
		item, err := attributevalue.MarshalMap(p.rec)
		if err != nil {
			return fmt.Errorf("marshal item: %w", err)
		}
		table := p.table
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:                &table,
			Item:                     item,
			ConditionExpression:      awsString("#v = :expected"),
			ExpressionAttributeNames: map[string]string{"#v": "version"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(p.expected, 10)},
			},
		}})
	}
	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			for _, r := range tce.CancellationReasons {
				if r.Code != nil && *r.Code == "ConditionalCheckFailed" {
					return ErrVersionMismatch
				}
			}
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, table, keyAttr, key string, out interface{}) (bool, error) {
	res, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &table,
		Key:            map[string]types.AttributeValue{keyAttr: &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get item %s: %w", key, err)
	}
	if len(res.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) putVersioned(ctx context.Context, table string, rec interface{}, expected int64) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                &table,
		Item:                     item,
		ConditionExpression:      awsString("#v = :expected"),
		ExpressionAttributeNames: map[string]string{"#v": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException" {
			return ErrVersionMismatch
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
