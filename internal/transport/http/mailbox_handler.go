package httptransport

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/service"
)

type createMailboxRequest struct {
	Address        string `json:"address"`
	LocalPart      string `json:"localPart"`
	Domain         string `json:"domain"`
	ExpiresInHours int    `json:"expiresInHours"`
}

// createMailbox 创建临时邮箱，请求体可以为空（随机地址、默认域名与默认有效期）
func (h *Handler) createMailbox(c *gin.Context) {
	var req createMailboxRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		Fail(c, http.StatusBadRequest, MsgInvalidRequest)
		return
	}

	mailbox, err := h.mailboxes.Create(c.Request.Context(), service.CreateMailboxInput{
		Address:        req.Address,
		LocalPart:      req.LocalPart,
		Domain:         req.Domain,
		ExpiresInHours: req.ExpiresInHours,
		IPAddress:      c.ClientIP(),
	})
	if err != nil {
		respondError(c, h.log, err, "create mailbox")
		return
	}

	Success(c, http.StatusCreated, gin.H{"mailbox": mailbox})
}

// listMailboxes 返回调用方 IP 创建的未过期邮箱
func (h *Handler) listMailboxes(c *gin.Context) {
	mailboxes, err := h.mailboxes.ListByIP(c.Request.Context(), c.ClientIP())
	if err != nil {
		respondError(c, h.log, err, "list mailboxes")
		return
	}
	if mailboxes == nil {
		mailboxes = []domain.Mailbox{}
	}

	Success(c, http.StatusOK, gin.H{
		"mailboxes": mailboxes,
		"count":     len(mailboxes),
	})
}

func (h *Handler) getMailbox(c *gin.Context) {
	mailbox, ok := h.loadMailbox(c)
	if !ok {
		return
	}
	Success(c, http.StatusOK, gin.H{"mailbox": mailbox})
}

func (h *Handler) deleteMailbox(c *gin.Context) {
	if err := h.mailboxes.Delete(c.Request.Context(), c.Param("address")); err != nil {
		respondError(c, h.log, err, "delete mailbox")
		return
	}
	Success(c, http.StatusOK, nil)
}

// loadMailbox 解析路径中的邮箱地址，成功时会刷新 lastAccessed。
// 失败时已写入响应，调用方直接返回。
func (h *Handler) loadMailbox(c *gin.Context) (*domain.Mailbox, bool) {
	mailbox, err := h.mailboxes.GetByAddress(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, h.log, err, "get mailbox")
		return nil, false
	}
	return mailbox, true
}
