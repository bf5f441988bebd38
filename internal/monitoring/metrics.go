package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailadmin/backend/internal/domain"
)

const namespace = "mailadmin"

// Metrics 监控指标
//
// 所有指标注册在独立的 Registry 上，测试中可以重复创建。
// 方法对 nil 接收者安全，未启用监控时可直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	PanicsTotal         prometheus.Counter

	// 套餐与开通指标
	CapacityRejections *prometheus.CounterVec
	Provisions         *prometheus.CounterVec
	PlanApplies        *prometheus.CounterVec
	ResyncedMailboxes  prometheus.Counter

	// Dovecot 重载指标
	ReloadsTotal   *prometheus.CounterVec
	ReloadDuration *prometheus.HistogramVec

	// 认证与限流指标
	LoginAttempts   *prometheus.CounterVec
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "panics_total",
				Help:      "Total number of recovered panics",
			},
		),

		CapacityRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capacity_rejections_total",
				Help:      "Provisioning requests rejected by plan limits",
			},
			[]string{"kind"},
		),

		Provisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provisions_total",
				Help:      "Mailbox and alias provisioning operations",
			},
			[]string{"kind", "op"},
		),

		PlanApplies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_applies_total",
				Help:      "Plan applications by outcome",
			},
			[]string{"outcome"},
		),

		ResyncedMailboxes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resynced_mailboxes_total",
				Help:      "Mailbox quotas rewritten by plan applications",
			},
		),

		ReloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dovecot_reloads_total",
				Help:      "Dovecot reload attempts by trigger and result",
			},
			[]string{"trigger", "result"},
		),

		ReloadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dovecot_reload_duration_seconds",
				Help:      "Dovecot reload duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"trigger"},
		),

		LoginAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_attempts_total",
				Help:      "Admin login attempts by result",
			},
			[]string{"result"},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_blocks_total",
				Help:      "Requests rejected by rate limiting",
			},
			[]string{"limit"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// ObserveCapacityRejection 记录因套餐上限被拒绝的开通
func (m *Metrics) ObserveCapacityRejection(kind domain.ResourceKind) {
	if m == nil {
		return
	}
	m.CapacityRejections.WithLabelValues(string(kind)).Inc()
}

// ObserveProvision 记录邮箱或别名的创建与删除
func (m *Metrics) ObserveProvision(kind domain.ResourceKind, op string) {
	if m == nil {
		return
	}
	m.Provisions.WithLabelValues(string(kind), op).Inc()
}

// ObservePlanApply 记录套餐变更结果
func (m *Metrics) ObservePlanApply(outcome string, resynced int) {
	if m == nil {
		return
	}
	m.PlanApplies.WithLabelValues(outcome).Inc()
	m.ResyncedMailboxes.Add(float64(resynced))
}

// ObserveReload 记录一次 Dovecot 重载
func (m *Metrics) ObserveReload(trigger string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ReloadsTotal.WithLabelValues(trigger, result).Inc()
	m.ReloadDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

// RecordLogin 记录登录结果
func (m *Metrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(result).Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limit string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limit).Inc()
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
