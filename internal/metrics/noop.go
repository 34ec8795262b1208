package metrics

import (
	"time"

	"github.com/crmflow/crmflow/backend/metrics"
)

type noopMetricsClient struct{}

var _ metrics.Client = (*noopMetricsClient)(nil)

// NewNoopMetricsClient returns a metrics client that discards everything.
func NewNoopMetricsClient() metrics.Client {
	return &noopMetricsClient{}
}

func (noopMetricsClient) Counter(name string, tags metrics.Tags, value int64) {}

func (noopMetricsClient) Distribution(name string, tags metrics.Tags, value float64) {}

func (noopMetricsClient) Gauge(name string, tags metrics.Tags, value int64) {}

func (noopMetricsClient) Timing(name string, tags metrics.Tags, duration time.Duration) {}

func (n noopMetricsClient) WithTags(tags metrics.Tags) metrics.Client { return n }
