package httptransport

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/security"
)

// 内容嗅探只需要文件头
const sniffLength = 512

func (h *Handler) listEmails(c *gin.Context) {
	mailbox, ok := h.loadMailbox(c)
	if !ok {
		return
	}

	emails, err := h.emails.List(c.Request.Context(), mailbox.ID)
	if err != nil {
		respondError(c, h.log, err, "list emails")
		return
	}
	if emails == nil {
		emails = []domain.EmailSummary{}
	}

	Success(c, http.StatusOK, gin.H{
		"emails": emails,
		"count":  len(emails),
	})
}

// getEmail 返回完整邮件和附件元数据，读取即标记已读
func (h *Handler) getEmail(c *gin.Context) {
	mailbox, ok := h.loadMailbox(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	email, err := h.emails.GetInMailbox(ctx, mailbox.ID, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, "get email")
		return
	}

	attachments, err := h.attachments.List(ctx, email.ID)
	if err != nil {
		respondError(c, h.log, err, "list attachments")
		return
	}
	if attachments == nil {
		attachments = []domain.Attachment{}
	}

	Success(c, http.StatusOK, gin.H{
		"email":       email,
		"attachments": attachments,
	})
}

func (h *Handler) deleteEmail(c *gin.Context) {
	email, ok := h.loadEmail(c)
	if !ok {
		return
	}

	if err := h.emails.Delete(c.Request.Context(), email.ID); err != nil {
		respondError(c, h.log, err, "delete email")
		return
	}
	Success(c, http.StatusOK, nil)
}

func (h *Handler) listAttachments(c *gin.Context) {
	email, ok := h.loadEmail(c)
	if !ok {
		return
	}

	attachments, err := h.attachments.List(c.Request.Context(), email.ID)
	if err != nil {
		respondError(c, h.log, err, "list attachments")
		return
	}
	if attachments == nil {
		attachments = []domain.Attachment{}
	}

	Success(c, http.StatusOK, gin.H{
		"attachments": attachments,
		"count":       len(attachments),
	})
}

// getAttachment 以 JSON 返回附件元数据和 base64 内容，分块缺失时 complete 为 false
func (h *Handler) getAttachment(c *gin.Context) {
	email, ok := h.loadEmail(c)
	if !ok {
		return
	}

	content, err := h.attachments.Get(c.Request.Context(), c.Param("attachmentId"))
	if err != nil {
		respondError(c, h.log, err, "get attachment")
		return
	}
	if content.Attachment.EmailID != email.ID {
		respondError(c, h.log, domain.ErrAttachmentNotFound, "get attachment")
		return
	}

	missing := content.MissingChunks
	if missing == nil {
		missing = []int{}
	}
	Success(c, http.StatusOK, gin.H{
		"attachment":    content.Attachment,
		"content":       content.Content,
		"complete":      content.Complete,
		"missingChunks": missing,
	})
}

// downloadAttachment 返回解码后的附件字节，内容不完整时拒绝下载
func (h *Handler) downloadAttachment(c *gin.Context) {
	email, ok := h.loadEmail(c)
	if !ok {
		return
	}

	content, err := h.attachments.Get(c.Request.Context(), c.Param("attachmentId"))
	if err != nil {
		respondError(c, h.log, err, "download attachment")
		return
	}
	attachment := content.Attachment
	if attachment.EmailID != email.ID {
		respondError(c, h.log, domain.ErrAttachmentNotFound, "download attachment")
		return
	}
	if !content.Complete {
		Fail(c, http.StatusConflict, MsgIncompleteContent)
		return
	}

	data, err := base64.StdEncoding.DecodeString(content.Content)
	if err != nil {
		h.log.Error("attachment content is not valid base64",
			zap.String("attachment_id", attachment.ID),
			zap.Error(err),
		)
		Fail(c, http.StatusInternalServerError, MsgInternalError)
		return
	}

	head := data
	if len(head) > sniffLength {
		head = head[:sniffLength]
	}
	policy := security.ResolveDownload(attachment.Filename, attachment.MimeType, head)

	c.Header("Content-Disposition", policy.ContentDisposition())
	c.Header("Cache-Control", "private, no-store")
	c.Data(http.StatusOK, policy.ContentType, data)
}

// loadEmail 校验路径中的邮箱和邮件归属，不改变已读状态。
func (h *Handler) loadEmail(c *gin.Context) (*domain.Email, bool) {
	mailbox, ok := h.loadMailbox(c)
	if !ok {
		return nil, false
	}

	email, err := h.emails.Owned(c.Request.Context(), mailbox.ID, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, "get email")
		return nil, false
	}
	return email, true
}
