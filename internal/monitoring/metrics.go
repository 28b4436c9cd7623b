package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有 Record 方法都允许 nil 接收者，未启用监控的组件可以直接传 nil。
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 邮箱与邮件指标
	MailboxesCreated prometheus.Counter
	MailboxesDeleted *prometheus.CounterVec // reason: user, expired
	EmailsReceived   *prometheus.CounterVec // source: smtp, http
	EmailsDeleted    *prometheus.CounterVec // reason: user, aged, read, mailbox
	EmailsSent       *prometheus.CounterVec // result: success, failure

	// 附件指标
	AttachmentsStored *prometheus.CounterVec // mode: inline, chunked
	AttachmentSize    prometheus.Histogram
	ChunksWritten     prometheus.Counter
	ReassemblyGaps    prometheus.Counter
	OrphansReclaimed  prometheus.Counter

	// 清理指标
	SweepRuns     *prometheus.CounterVec
	SweepDeleted  *prometheus.CounterVec
	SweepErrors   *prometheus.CounterVec
	SweepDuration *prometheus.HistogramVec

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec

	registry prometheus.Gatherer
}

// NewMetrics 在给定的注册器上创建监控指标，reg 为 nil 时使用默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempinbox_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tempinbox_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),

		MailboxesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempinbox_mailboxes_created_total",
			Help: "Total number of mailboxes created",
		}),
		MailboxesDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempinbox_mailboxes_deleted_total",
			Help: "Total number of mailboxes deleted",
		}, []string{"reason"}),
		EmailsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempinbox_emails_received_total",
			Help: "Total number of emails accepted into a mailbox",
		}, []string{"source"}),
		EmailsDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempinbox_emails_deleted_total",
			Help: "Total number of emails deleted",
		}, []string{"reason"}),
		EmailsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempinbox_emails_sent_total",
			Help: "Total number of outbound send attempts",
		}, []string{"result"}),

		AttachmentsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempinbox_attachments_stored_total",
			Help: "Total number of attachments stored",
		}, []string{"mode"}),
		AttachmentSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tempinbox_attachment_size_bytes",
			Help:    "Declared attachment size in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		ChunksWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempinbox_attachment_chunks_written_total",
			Help: "Total number of attachment chunks written",
		}),
		ReassemblyGaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempinbox_attachment_reassembly_gaps_total",
			Help: "Number of chunked attachment reads that returned incomplete content",
		}),
		OrphansReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempinbox_orphaned_attachments_reclaimed_total",
			Help: "Number of orphaned attachments removed by reconciliation",
		}),

		SweepRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempinbox_sweep_runs_total",
			Help: "Number of retention sweep runs",
		}, []string{"sweep"}),
		SweepDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempinbox_sweep_deleted_total",
			Help: "Number of records removed by retention sweeps",
		}, []string{"sweep"}),
		SweepErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempinbox_sweep_errors_total",
			Help: "Number of errors logged during retention sweeps",
		}, []string{"sweep"}),
		SweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tempinbox_sweep_duration_seconds",
			Help:    "Retention sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"sweep"}),

		RateLimitBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempinbox_rate_limit_blocks_total",
			Help: "Number of requests rejected by rate limits",
		}, []string{"limit"}),

		registry: gatherer,
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

// RecordMailboxCreated 记录邮箱创建
func (m *Metrics) RecordMailboxCreated() {
	if m == nil {
		return
	}
	m.MailboxesCreated.Inc()
}

// RecordMailboxesDeleted 记录邮箱删除
func (m *Metrics) RecordMailboxesDeleted(reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.MailboxesDeleted.WithLabelValues(reason).Add(float64(count))
}

// RecordEmailReceived 记录收到的邮件
func (m *Metrics) RecordEmailReceived(source string) {
	if m == nil {
		return
	}
	m.EmailsReceived.WithLabelValues(source).Inc()
}

// RecordEmailsDeleted 记录邮件删除
func (m *Metrics) RecordEmailsDeleted(reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.EmailsDeleted.WithLabelValues(reason).Add(float64(count))
}

// RecordEmailSent 记录外发结果
func (m *Metrics) RecordEmailSent(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.EmailsSent.WithLabelValues(result).Inc()
}

// RecordAttachmentStored 记录附件写入
func (m *Metrics) RecordAttachmentStored(chunked bool, size int64, chunks int) {
	if m == nil {
		return
	}
	mode := "inline"
	if chunked {
		mode = "chunked"
	}
	m.AttachmentsStored.WithLabelValues(mode).Inc()
	m.AttachmentSize.Observe(float64(size))
	m.ChunksWritten.Add(float64(chunks))
}

// RecordReassemblyGap 记录一次不完整的分块重组
func (m *Metrics) RecordReassemblyGap() {
	if m == nil {
		return
	}
	m.ReassemblyGaps.Inc()
}

// RecordOrphansReclaimed 记录孤儿附件回收数量
func (m *Metrics) RecordOrphansReclaimed(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.OrphansReclaimed.Add(float64(count))
}

// RecordSweep 记录一次清理执行
func (m *Metrics) RecordSweep(sweep string, deleted, errors int, duration time.Duration) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(sweep).Inc()
	m.SweepDeleted.WithLabelValues(sweep).Add(float64(deleted))
	if errors > 0 {
		m.SweepErrors.WithLabelValues(sweep).Add(float64(errors))
	}
	m.SweepDuration.WithLabelValues(sweep).Observe(duration.Seconds())
}

// RecordRateLimitBlock 记录限流拒绝
func (m *Metrics) RecordRateLimitBlock(limit string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limit).Inc()
}

// HTTPHandler 返回 Prometheus 抓取接口
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
