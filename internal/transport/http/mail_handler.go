package httptransport

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/service"
	"tempinbox/backend/internal/smtp"
)

const (
	// InboundTokenHeader 入站接口的共享密钥请求头
	InboundTokenHeader = "X-Inbound-Token"
	// EnvelopeToHeader 可选，逗号分隔的信封收件人，存在时优先于邮件头 To
	EnvelopeToHeader = "X-Envelope-To"
)

type sendEmailRequest struct {
	To      []string `json:"to" binding:"required"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	HTML    string   `json:"html"`
}

// sendEmail 以路径中的邮箱为发件人外发邮件，投递失败不重试
func (h *Handler) sendEmail(c *gin.Context) {
	var req sendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, MsgInvalidRequest)
		return
	}

	result, err := h.outbound.Send(c.Request.Context(), c.Param("address"), service.SendRequest{
		To:      req.To,
		Subject: req.Subject,
		Text:    req.Text,
		HTML:    req.HTML,
	})
	if err != nil {
		respondError(c, h.log, err, "send email")
		return
	}
	if !result.Success {
		Fail(c, http.StatusBadGateway, result.Error)
		return
	}

	Success(c, http.StatusOK, gin.H{"messageId": result.MessageID})
}

type deliveryResult struct {
	Address string `json:"address"`
	EmailID string `json:"emailId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// receiveInbound 接收边缘邮件触发器转发的原始邮件
func (h *Handler) receiveInbound(c *gin.Context) {
	token := c.GetHeader(InboundTokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.inboundToken)) != 1 {
		Fail(c, http.StatusUnauthorized, MsgInboundForbidden)
		return
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Fail(c, http.StatusRequestEntityTooLarge, MsgInvalidRequest)
			return
		}
		Fail(c, http.StatusBadRequest, MsgInvalidRequest)
		return
	}

	msg, err := smtp.ParseMessage(raw)
	if err != nil {
		h.log.Info("rejecting unparseable inbound message", zap.Error(err))
		Fail(c, http.StatusBadRequest, MsgInvalidMessage)
		return
	}

	recipients := envelopeRecipients(c.GetHeader(EnvelopeToHeader), msg.To)
	if len(recipients) == 0 {
		Fail(c, http.StatusBadRequest, MsgNoRecipients)
		return
	}

	results := make([]deliveryResult, 0, len(recipients))
	delivered := 0
	var lastErr error
	for _, rcpt := range recipients {
		email, err := h.inbound.Deliver(c.Request.Context(), rcpt, msg, "http")
		if err != nil {
			lastErr = err
			_, text, _ := lookupError(err)
			results = append(results, deliveryResult{Address: rcpt, Error: text})
			if !errors.Is(err, domain.ErrMailboxNotFound) {
				h.log.Warn("inbound delivery failed", zap.String("recipient", rcpt), zap.Error(err))
			}
			continue
		}
		delivered++
		results = append(results, deliveryResult{Address: rcpt, EmailID: email.ID})
	}

	if delivered == 0 {
		respondError(c, h.log, lastErr, "inbound delivery")
		return
	}
	Success(c, http.StatusOK, gin.H{
		"delivered": delivered,
		"results":   results,
	})
}

// envelopeRecipients 规范化并去重收件人
func envelopeRecipients(header string, fallback []string) []string {
	candidates := fallback
	if strings.TrimSpace(header) != "" {
		candidates = strings.Split(header, ",")
	}

	seen := make(map[string]bool, len(candidates))
	recipients := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		addr := domain.NormalizeAddress(candidate)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		recipients = append(recipients, addr)
	}
	return recipients
}

// subscribe 升级为 WebSocket 并推送该邮箱的新邮件通知
func (h *Handler) subscribe(c *gin.Context) {
	mailbox, ok := h.loadMailbox(c)
	if !ok {
		return
	}
	h.hub.ServeMailbox(c.Writer, c.Request, mailbox.Address)
}
