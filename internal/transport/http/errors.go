package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
)

type errorMapping struct {
	err     error
	status  int
	message string
}

// 业务错误 -> HTTP 状态码与对外消息，按顺序匹配
var errorMessages = []errorMapping{
	{domain.ErrMailboxNotFound, http.StatusNotFound, "mailbox not found"},
	{domain.ErrEmailNotFound, http.StatusNotFound, "email not found"},
	{domain.ErrAttachmentNotFound, http.StatusNotFound, "attachment not found"},

	{domain.ErrMailboxExists, http.StatusBadRequest, "mailbox address already in use"},
	{domain.ErrInvalidAddress, http.StatusBadRequest, "invalid mailbox address"},
	{domain.ErrInvalidDomain, http.StatusBadRequest, "domain not allowed"},
	{domain.ErrInvalidExpiry, http.StatusBadRequest, "invalid expiry window"},
	{domain.ErrInvalidRecipient, http.StatusBadRequest, "invalid recipient address"},

	{domain.ErrMailboxQuotaExceeded, http.StatusTooManyRequests, "too many active mailboxes"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "too many requests, try again later"},

	{domain.ErrOutboundDisabled, http.StatusServiceUnavailable, "outbound mail is not configured"},
}

// 通用错误消息
const (
	MsgInvalidRequest    = "invalid request body"
	MsgInvalidMessage    = "message could not be parsed"
	MsgInvalidSweepKind  = "unknown sweep kind"
	MsgInboundForbidden  = "invalid inbound token"
	MsgNoRecipients      = "message has no recipients"
	MsgIncompleteContent = "attachment content is incomplete"
	MsgInternalError     = "internal server error"
)

// lookupError 返回错误对应的状态码和消息，未登记的错误统一为 500。
func lookupError(err error) (int, string, bool) {
	for _, m := range errorMessages {
		if errors.Is(err, m.err) {
			return m.status, m.message, true
		}
	}
	return http.StatusInternalServerError, MsgInternalError, false
}

// respondError 把业务错误映射为响应；未知错误只写日志，不把细节返回给客户端。
func respondError(c *gin.Context, log *zap.Logger, err error, action string) {
	status, msg, known := lookupError(err)
	if !known {
		log.Error("request failed",
			zap.String("action", action),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	} else {
		log.Debug("request rejected",
			zap.String("action", action),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	Fail(c, status, msg)
}
