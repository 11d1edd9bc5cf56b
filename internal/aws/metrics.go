package aws

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// maxDatumsPerCall keeps PutMetricData requests well under the service limit.
const maxDatumsPerCall = 500

// Metrics aggregates counters in memory and ships them to CloudWatch on Flush.
// A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
	log       *slog.Logger
	nowFunc   func() time.Time

	mu     sync.Mutex
	counts map[string]*counter
}

type counter struct {
	name  string
	dims  []cwtypes.Dimension
	value float64
}

func NewMetrics(client CloudWatchAPI, namespace string, log *slog.Logger) *Metrics {
	return &Metrics{
		client:    client,
		namespace: namespace,
		log:       log,
		nowFunc:   time.Now,
		counts:    map[string]*counter{},
	}
}

// Incr adds one to the named counter. dims are key/value pairs; a trailing
// key without a value is ignored.
func (m *Metrics) Incr(name string, dims ...string) {
	if m == nil {
		return
	}
	var b strings.Builder
	b.WriteString(name)
	pairs := make([]cwtypes.Dimension, 0, len(dims)/2)
	for i := 0; i+1 < len(dims); i += 2 {
		pairs = append(pairs, cwtypes.Dimension{Name: awsString(dims[i]), Value: awsString(dims[i+1])})
	}
	sort.Slice(pairs, func(i, j int) bool { return *pairs[i].Name < *pairs[j].Name })
	for _, d := range pairs {
		fmt.Fprintf(&b, "|%s=%s", *d.Name, *d.Value)
	}
	key := b.String()

	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counts[key]
	if !ok {
		c = &counter{name: name, dims: pairs}
		m.counts[key] = c
	}
	c.value++
}

// Snapshot returns the pending counter values keyed by name and sorted dims.
func (m *Metrics) Snapshot() map[string]float64 {
	out := map[string]float64{}
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range m.counts {
		out[k] = c.value
	}
	return out
}

// Flush sends and resets the pending counters. Counters are dropped when the
// call fails; metrics are advisory.
func (m *Metrics) Flush(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	m.mu.Lock()
	pending := m.counts
	m.counts = map[string]*counter{}
	m.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	now := m.nowFunc()
	datums := make([]cwtypes.MetricDatum, 0, len(pending))
	for _, c := range pending {
		v := c.value
		datums = append(datums, cwtypes.MetricDatum{
			MetricName: awsString(c.name),
			Dimensions: c.dims,
			Value:      &v,
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  &now,
		})
	}

	for start := 0; start < len(datums); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(datums) {
			end = len(datums)
		}
		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  &m.namespace,
			MetricData: datums[start:end],
		})
		if err != nil {
			return fmt.Errorf("put metric data: %w", err)
		}
	}
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (m *Metrics) Run(ctx context.Context, interval time.Duration) error {
	if m == nil || m.client == nil || interval <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.Flush(flushCtx); err != nil {
				m.log.Warn("final metrics flush failed", "action", "metrics_flush", "error", err)
			}
			cancel()
			return nil
		case <-t.C:
			if err := m.Flush(ctx); err != nil {
				m.log.Warn("metrics flush failed", "action", "metrics_flush", "error", err)
			}
		}
	}
}
