package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-orderflow-realtime/internal/apperr"
	"github.com/imrishuroy/go-orderflow-realtime/internal/aws"
)

// ErrNotInProgress is returned when finishing a key that is not IN_PROGRESS.
var ErrNotInProgress = errors.New("idempotency record is not in progress")

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration
	nowFunc   func() time.Time
}

// NewStore returns a configured Store. ttlWindow sets expires_at on new
// entries (e.g. 48*time.Hour).
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// Fingerprint hashes a request body so a reused key can be told apart from a
// retry of the same request.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Begin claims key for a new attempt. It returns owned=true when the caller
// must perform the work; otherwise rec describes the earlier attempt. A key
// reused with a different fingerprint is a Conflict. A FAILED key is
// re-opened for the caller.
func (s *Store) Begin(ctx context.Context, key, fingerprint string) (*Record, bool, error) {
	now := s.nowFunc().UTC()
	rec := Record{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		Fingerprint:    fingerprint,
		Attempts:       1,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, false, fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
	})
	if err == nil {
		return &rec, true, nil
	}
	if !isConditionFailed(err) {
		return nil, false, fmt.Errorf("put item: %w", err)
	}

	existing, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// expired between the put and the read
		return nil, false, fmt.Errorf("idempotency key %s vanished during begin", key)
	}
	if existing.Fingerprint != fingerprint {
		return nil, false, apperr.Conflict("idempotency key %s was used with a different request", key)
	}
	if existing.Status != StatusFailed {
		return existing, false, nil
	}

	reopened, err := s.reopen(ctx, existing)
	if err != nil {
		if errors.Is(err, ErrNotInProgress) {
			// another retry re-opened it first
			latest, gerr := s.Get(ctx, key)
			if gerr != nil {
				return nil, false, gerr
			}
			return latest, false, nil
		}
		return nil, false, err
	}
	return reopened, true, nil
}

func (s *Store) reopen(ctx context.Context, rec *Record) (*Record, error) {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      keyOf(rec.IdempotencyKey),
		UpdateExpression:         awsString("SET #s = :inprog, attempts = :a, updated_at = :ua"),
		ConditionExpression:      awsString("#s = :failed"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inprog": &types.AttributeValueMemberS{Value: StatusInProgress},
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":a":      &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Attempts + 1)},
			":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrNotInProgress
		}
		return nil, fmt.Errorf("update item (reopen): %w", err)
	}
	out := *rec
	out.Status = StatusInProgress
	out.Attempts++
	out.UpdatedAt = now
	return &out, nil
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyOf(key),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// Complete stores the response for replays and moves IN_PROGRESS -> DONE.
func (s *Store) Complete(ctx context.Context, key, orderID, responseBody string, responseStatus int) error {
	return s.finish(ctx, key, "SET #s = :done, order_id = :oid, response_body = :rb, response_status = :rs, updated_at = :ua",
		map[string]types.AttributeValue{
			":done": &types.AttributeValueMemberS{Value: StatusDone},
			":oid":  &types.AttributeValueMemberS{Value: orderID},
			":rb":   &types.AttributeValueMemberS{Value: responseBody},
			":rs":   &types.AttributeValueMemberN{Value: strconv.Itoa(responseStatus)},
		})
}

// Fail moves IN_PROGRESS -> FAILED so the client may retry with the same key.
func (s *Store) Fail(ctx context.Context, key, note string) error {
	return s.finish(ctx, key, "SET #s = :failed, note = :n, updated_at = :ua",
		map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":n":      &types.AttributeValueMemberS{Value: note},
		})
}

func (s *Store) finish(ctx context.Context, key, update string, values map[string]types.AttributeValue) error {
	values[":inprog"] = &types.AttributeValueMemberS{Value: StatusInProgress}
	values[":ua"] = &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)}
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       keyOf(key),
		UpdateExpression:          awsString(update),
		ConditionExpression:       awsString("#s = :inprog"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotInProgress
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func keyOf(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
