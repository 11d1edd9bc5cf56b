package aws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"github.com/imrishuroy/go-orderflow-realtime/internal/logging"
)

type mockCloudWatch struct {
	mu     sync.Mutex
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, in)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestMetrics_IncrAggregatesByDimensions(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewMetrics(cw, "Orderflow", logging.Discard())
	m.nowFunc = func() time.Time { return time.Unix(1700000000, 0) }

	m.Incr("EventsEmitted", "event", "order:created")
	m.Incr("EventsEmitted", "event", "order:created")
	m.Incr("EventsEmitted", "event", "kitchen:order_ready")

	snap := m.Snapshot()
	if snap["EventsEmitted|event=order:created"] != 2 {
		t.Fatalf("expected aggregated count 2, got %v", snap)
	}

	if err := m.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(cw.inputs) != 1 {
		t.Fatalf("expected one PutMetricData call, got %d", len(cw.inputs))
	}
	if n := len(cw.inputs[0].MetricData); n != 2 {
		t.Fatalf("expected 2 datums, got %d", n)
	}
	if *cw.inputs[0].Namespace != "Orderflow" {
		t.Fatalf("namespace mismatch")
	}
	if len(m.Snapshot()) != 0 {
		t.Fatalf("flush must reset counters")
	}
}

func TestMetrics_FlushErrorAndNil(t *testing.T) {
	m := NewMetrics(&mockCloudWatch{err: errors.New("denied")}, "ns", logging.Discard())
	m.Incr("Transitions")
	if err := m.Flush(context.Background()); err == nil {
		t.Fatalf("expected flush error")
	}

	var none *Metrics
	none.Incr("ignored")
	if err := none.Flush(context.Background()); err != nil {
		t.Fatalf("nil metrics must be a no-op: %v", err)
	}
}
