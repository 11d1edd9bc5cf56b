package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type mockSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (m *mockSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.inputs = append(m.inputs, in)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestPublisherSend_Attributes(t *testing.T) {
	m := &mockSQS{}
	p := NewPublisher(m, "https://sqs.local/queue/events")

	err := p.Send(context.Background(), `{"event":"order:created"}`, map[string]string{
		"event": "order:created",
		"room":  "kitchen",
		"empty": "",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(m.inputs) != 1 {
		t.Fatalf("expected one message, got %d", len(m.inputs))
	}
	in := m.inputs[0]
	if *in.QueueUrl != "https://sqs.local/queue/events" {
		t.Fatalf("queue url mismatch: %s", *in.QueueUrl)
	}
	if got := *in.MessageAttributes["room"].StringValue; got != "kitchen" {
		t.Fatalf("room attribute mismatch: %s", got)
	}
	if _, ok := in.MessageAttributes["empty"]; ok {
		t.Fatalf("empty attributes must be skipped")
	}
}

func TestPublisherSend_Error(t *testing.T) {
	p := NewPublisher(&mockSQS{err: errors.New("throttled")}, "q")
	if err := p.Send(context.Background(), "{}", nil); err == nil {
		t.Fatalf("expected error")
	}
}
