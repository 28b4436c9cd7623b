package domain

import "errors"

// 业务层哨兵错误，存储实现负责把驱动错误映射到这里。
var (
	ErrMailboxNotFound    = errors.New("mailbox not found")
	ErrMailboxExists      = errors.New("mailbox address already in use")
	ErrEmailNotFound      = errors.New("email not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrChunkNotFound      = errors.New("attachment chunk not found")

	ErrInvalidAddress       = errors.New("invalid mailbox address")
	ErrInvalidDomain        = errors.New("domain not allowed")
	ErrInvalidExpiry        = errors.New("invalid expiry window")
	ErrMailboxQuotaExceeded = errors.New("too many active mailboxes for this address")
	ErrRateLimited          = errors.New("too many requests")
)

// 收发信相关错误
var (
	ErrInvalidRecipient = errors.New("invalid recipient address")
	ErrOutboundDisabled = errors.New("outbound mail is not configured")
)
