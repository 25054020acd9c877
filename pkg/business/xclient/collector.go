package xclient

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/omeyang/xclient/pkg/business/xfault"
)

const namespace = "xclient"

// collector 在每次采集时读取 [Client.Stats]，不另外维护计数。
type collector struct {
	client *Client

	requests        *prometheus.Desc
	requestsActive  *prometheus.Desc
	requestsFailed  *prometheus.Desc
	requestsSlow    *prometheus.Desc
	requestAvg      *prometheus.Desc
	retryAttempts   *prometheus.Desc
	retryOperations *prometheus.Desc
	refreshes       *prometheus.Desc
	refreshJoined   *prometheus.Desc
	refreshing      *prometheus.Desc
	errors          *prometheus.Desc
	breakerState    *prometheus.Desc
}

// Collector 返回客户端统计的 Prometheus 采集器。
//
// 同一进程内多个客户端注册到同一 Registry 时，需要用
// prometheus.WrapRegistererWith 加上区分标签。
func (c *Client) Collector() prometheus.Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &collector{
		client:          c,
		requests:        desc("requests_total", "Calls started through the pipeline."),
		requestsActive:  desc("requests_active", "Calls currently in flight."),
		requestsFailed:  desc("requests_failed_total", "Calls that ended with a failure."),
		requestsSlow:    desc("requests_slow_total", "Calls slower than the slow threshold."),
		requestAvg:      desc("request_duration_avg_seconds", "Average duration of completed calls."),
		retryAttempts:   desc("retries_attempted_total", "Retries performed after a failed attempt."),
		retryOperations: desc("retry_operations_total", "Operations that retried at least once, by outcome.", "outcome"),
		refreshes:       desc("refresh_total", "Credential refreshes, by outcome.", "outcome"),
		refreshJoined:   desc("refresh_joined_total", "Callers that joined an in-flight refresh."),
		refreshing:      desc("refresh_in_progress", "1 while a credential refresh is in flight."),
		errors:          desc("errors_total", "Failures handled by the error center, by category.", "category"),
		breakerState:    desc("breaker_state", "Circuit state per host: 0 closed, 1 half-open, 2 open.", "host"),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.requests, c.requestsActive, c.requestsFailed, c.requestsSlow, c.requestAvg,
		c.retryAttempts, c.retryOperations,
		c.refreshes, c.refreshJoined, c.refreshing,
		c.errors, c.breakerState,
	} {
		ch <- d
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.client.Stats()

	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.requests, float64(s.Requests.Total))
	gauge(c.requestsActive, float64(s.Requests.Active))
	counter(c.requestsFailed, float64(s.Requests.Failed))
	counter(c.requestsSlow, float64(s.Requests.Slow))
	gauge(c.requestAvg, s.Requests.AvgDuration.Seconds())

	counter(c.retryAttempts, float64(s.Retries.Attempted))
	counter(c.retryOperations, float64(s.Retries.SucceededAfterRetry), "succeeded")
	counter(c.retryOperations, float64(s.Retries.FailedAfterRetry), "failed")

	counter(c.refreshes, float64(s.Refresh.Succeeded), "succeeded")
	counter(c.refreshes, float64(s.Refresh.Failed), "failed")
	counter(c.refreshJoined, float64(s.Refresh.Joined))
	refreshing := 0.0
	if s.Refresh.Refreshing {
		refreshing = 1
	}
	gauge(c.refreshing, refreshing)

	for _, cat := range xfault.Categories() {
		counter(c.errors, float64(s.Errors.Handled[cat]), cat.String())
	}
	for host, st := range s.Breakers {
		gauge(c.breakerState, float64(st), host)
	}
}
