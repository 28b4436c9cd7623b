package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	jwtpkg "tempinbox/backend/internal/auth/jwt"
	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/health"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/outbound"
	"tempinbox/backend/internal/service"
	"tempinbox/backend/internal/storage/memory"
)

const testInboundToken = "inbound-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type senderFunc func(ctx context.Context, env outbound.Envelope) error

func (f senderFunc) Send(ctx context.Context, env outbound.Envelope) error { return f(ctx, env) }

type testServer struct {
	router *gin.Engine
	store  *memory.Store
	jwt    *jwtpkg.Manager
}

func newTestServer(t *testing.T, sender outbound.Sender) *testServer {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{MaxBodyBytes: 1 << 20},
		Mailbox: config.MailboxConfig{
			AllowedDomains:  []string{"temp.example"},
			DefaultTTLHours: 24,
			MaxTTLHours:     72,
		},
		Retention: config.RetentionConfig{EmailMaxAge: 24 * time.Hour, SweepReadEmails: true},
		Inbound:   config.InboundConfig{Token: testInboundToken},
		CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}},
	}

	log := zap.NewNop()
	store := memory.NewStore()
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	attachments := service.NewAttachmentService(store, log)
	emails := service.NewEmailService(store, attachments, log)
	mailboxes := service.NewMailboxService(store, attachments, cfg.Mailbox, log)
	inbound := service.NewInboundService(mailboxes, emails, attachments, log)
	outboundSvc := service.NewOutboundService(mailboxes, sender, log)
	retention := service.NewRetentionService(store, attachments, cfg.Retention, log)

	checker := health.NewChecker(log)
	checker.AddDependency("store", store)

	manager := jwtpkg.NewManager("test-secret", "tempinbox", time.Hour)

	router := NewRouter(RouterDependencies{
		Config:      cfg,
		Mailboxes:   mailboxes,
		Emails:      emails,
		Attachments: attachments,
		Inbound:     inbound,
		Outbound:    outboundSvc,
		Retention:   retention,
		JWT:         manager,
		Metrics:     metrics,
		Health:      checker,
		Logger:      log,
	})
	return &testServer{router: router, store: store, jwt: manager}
}

func (s *testServer) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createMailbox(t *testing.T, localPart string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/mailboxes", []byte(`{"localPart":"`+localPart+`","domain":"temp.example"}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return localPart + "@temp.example"
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func rawMessage(to string) []byte {
	lines := []string{
		"From: Alice <alice@example.com>",
		"To: " + to,
		"Subject: Quarterly report",
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=BOUNDARY",
		"",
		"--BOUNDARY",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"see attached",
		"--BOUNDARY",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="report.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		"JVBERi0xLjQK",
		"--BOUNDARY--",
		"",
	}
	return []byte(strings.Join(lines, "\r\n"))
}

func TestMailboxRoutes(t *testing.T) {
	srv := newTestServer(t, nil)

	t.Run("创建邮箱", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/mailboxes", []byte(`{"localPart":"Alice","domain":"temp.example","expiresInHours":2}`), nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		body := decode(t, rec)
		assert.Equal(t, true, body["success"])
		mailbox := body["mailbox"].(map[string]any)
		assert.Equal(t, "alice@temp.example", mailbox["address"])
		assert.NotContains(t, mailbox, "ipAddress")
	})

	t.Run("空请求体生成随机地址", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/mailboxes", nil, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		address := decode(t, rec)["mailbox"].(map[string]any)["address"].(string)
		assert.True(t, strings.HasSuffix(address, "@temp.example"))
	})

	t.Run("地址冲突返回 400", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/mailboxes", []byte(`{"address":"alice@temp.example"}`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "mailbox address already in use", body["error"])
	})

	t.Run("域名不在允许列表", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/mailboxes", []byte(`{"localPart":"bob","domain":"evil.example"}`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("非法 JSON", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/mailboxes", []byte(`{`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, MsgInvalidRequest, decode(t, rec)["error"])
	})

	t.Run("按来源 IP 列出", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/v1/mailboxes", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 2, decode(t, rec)["count"])
	})

	t.Run("查询与删除", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/v1/mailboxes/ALICE@temp.example", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = srv.do(t, http.MethodDelete, "/v1/mailboxes/alice@temp.example", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = srv.do(t, http.MethodGet, "/v1/mailboxes/alice@temp.example", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "mailbox not found", decode(t, rec)["error"])

		rec = srv.do(t, http.MethodDelete, "/v1/mailboxes/alice@temp.example", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestInboundAndEmailRoutes(t *testing.T) {
	srv := newTestServer(t, nil)
	address := srv.createMailbox(t, "inbox")
	other := srv.createMailbox(t, "other")
	inboundHeaders := map[string]string{InboundTokenHeader: testInboundToken}

	t.Run("密钥错误", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/inbound", rawMessage(address), map[string]string{InboundTokenHeader: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("没有收件人", func(t *testing.T) {
		raw := []byte("From: alice@example.com\r\nSubject: hi\r\n\r\nbody\r\n")
		rec := srv.do(t, http.MethodPost, "/v1/inbound", raw, inboundHeaders)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("收件邮箱不存在", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/inbound", rawMessage("ghost@temp.example"), inboundHeaders)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	rec := srv.do(t, http.MethodPost, "/v1/inbound", rawMessage(address), inboundHeaders)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decode(t, rec)["delivered"])

	rec = srv.do(t, http.MethodGet, "/v1/mailboxes/"+address+"/emails", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	emails := decode(t, rec)["emails"].([]any)
	require.Len(t, emails, 1)
	summary := emails[0].(map[string]any)
	assert.Equal(t, "Quarterly report", summary["subject"])
	assert.Equal(t, true, summary["hasAttachments"])
	assert.Equal(t, false, summary["isRead"])
	emailID := summary["id"].(string)
	emailPath := "/v1/mailboxes/" + address + "/emails/" + emailID

	t.Run("其他邮箱访问不到", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/v1/mailboxes/"+other+"/emails/"+emailID, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	var attachmentID string
	t.Run("读取邮件并标记已读", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, emailPath, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		email := body["email"].(map[string]any)
		assert.Equal(t, true, email["isRead"])
		assert.Equal(t, "see attached", email["textContent"])

		attachments := body["attachments"].([]any)
		require.Len(t, attachments, 1)
		attachmentID = attachments[0].(map[string]any)["id"].(string)
	})

	t.Run("附件 JSON 与下载", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, emailPath+"/attachments/"+attachmentID, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "JVBERi0xLjQK", body["content"])
		assert.Equal(t, true, body["complete"])

		rec = srv.do(t, http.MethodGet, emailPath+"/attachments/"+attachmentID+"/download", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "%PDF-1.4\n", rec.Body.String())
		assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
		assert.Equal(t, "inline; filename=report.pdf", rec.Header().Get("Content-Disposition"))

		rec = srv.do(t, http.MethodGet, emailPath+"/attachments/missing/download", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("删除邮件级联附件", func(t *testing.T) {
		rec := srv.do(t, http.MethodDelete, emailPath, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = srv.do(t, http.MethodGet, emailPath, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		_, err := srv.store.GetAttachment(context.Background(), attachmentID)
		assert.ErrorIs(t, err, domain.ErrAttachmentNotFound)
	})
}

func TestInboundRoute_EnvelopeRecipients(t *testing.T) {
	srv := newTestServer(t, nil)
	address := srv.createMailbox(t, "hidden")

	rec := srv.do(t, http.MethodPost, "/v1/inbound", rawMessage("someone@elsewhere.example"), map[string]string{
		InboundTokenHeader: testInboundToken,
		EnvelopeToHeader:   " HIDDEN@temp.example, ghost@temp.example",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.EqualValues(t, 1, body["delivered"])
	results := body["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, address, results[0].(map[string]any)["address"])
	assert.Equal(t, "mailbox not found", results[1].(map[string]any)["error"])
}

func TestSendRoute(t *testing.T) {
	t.Run("未配置外发", func(t *testing.T) {
		srv := newTestServer(t, nil)
		address := srv.createMailbox(t, "sender")
		rec := srv.do(t, http.MethodPost, "/v1/mailboxes/"+address+"/send", []byte(`{"to":["bob@example.com"]}`), nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("投递成功", func(t *testing.T) {
		var got outbound.Envelope
		srv := newTestServer(t, senderFunc(func(_ context.Context, env outbound.Envelope) error {
			got = env
			return nil
		}))
		address := srv.createMailbox(t, "sender")

		rec := srv.do(t, http.MethodPost, "/v1/mailboxes/"+address+"/send", []byte(`{"to":["bob@example.com"],"subject":"hi","text":"hello"}`), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.NotEmpty(t, decode(t, rec)["messageId"])
		assert.Equal(t, address, got.From)
		assert.Equal(t, []string{"bob@example.com"}, got.To)
	})

	t.Run("投递失败返回 502", func(t *testing.T) {
		srv := newTestServer(t, senderFunc(func(context.Context, outbound.Envelope) error {
			return errors.New("relay refused")
		}))
		address := srv.createMailbox(t, "sender")

		rec := srv.do(t, http.MethodPost, "/v1/mailboxes/"+address+"/send", []byte(`{"to":["bob@example.com"]}`), nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "relay refused", decode(t, rec)["error"])
	})

	t.Run("收件人非法", func(t *testing.T) {
		srv := newTestServer(t, senderFunc(func(context.Context, outbound.Envelope) error { return nil }))
		address := srv.createMailbox(t, "sender")

		rec := srv.do(t, http.MethodPost, "/v1/mailboxes/"+address+"/send", []byte(`{"to":["not an address"]}`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = srv.do(t, http.MethodPost, "/v1/mailboxes/"+address+"/send", []byte(`{}`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAdminSweepRoute(t *testing.T) {
	srv := newTestServer(t, nil)
	token, _, err := srv.jwt.IssueAdminToken("ops", time.Hour)
	require.NoError(t, err)
	auth := map[string]string{"Authorization": "Bearer " + token}

	t.Run("未认证", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/admin/sweeps/expired", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("单项清理", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/admin/sweeps/expired", nil, auth)
		require.Equal(t, http.StatusOK, rec.Code)
		result := decode(t, rec)["result"].(map[string]any)
		assert.Equal(t, "expired", result["kind"])
	})

	t.Run("全部清理", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/admin/sweeps/all", nil, auth)
		require.Equal(t, http.StatusOK, rec.Code)
		report := decode(t, rec)["report"].(map[string]any)
		assert.Len(t, report["results"], 4)
	})

	t.Run("未知任务", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/admin/sweeps/everything", nil, auth)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestOperationalRoutes(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.createMailbox(t, "metrics")

	rec := srv.do(t, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tempinbox_http_requests_total")

	rec = srv.do(t, http.MethodGet, "/v2/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestLookupError(t *testing.T) {
	status, msg, known := lookupError(errors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, MsgInternalError, msg)
	assert.False(t, known)

	status, _, known = lookupError(errors.Join(errors.New("wrapped"), domain.ErrRateLimited))
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.True(t, known)
}

func TestEnvelopeRecipients(t *testing.T) {
	assert.Equal(t, []string{"a@x.example", "b@x.example"}, envelopeRecipients("", []string{"A@x.example", "b@x.example", "a@x.example"}))
	assert.Equal(t, []string{"c@x.example"}, envelopeRecipients(" C@x.example ,", []string{"a@x.example"}))
	assert.Empty(t, envelopeRecipients("", nil))
}
