package domain

import "time"

// Email 表示投递到临时邮箱的一封邮件。
//
// HasAttachments 在创建时写入且不再重新计算，只能作为提示使用，
// 清理逻辑不得依赖它判断附件是否存在。
type Email struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MailboxID      string    `json:"mailboxId" gorm:"type:varchar(36);index;not null"`
	FromAddress    string    `json:"fromAddress" gorm:"type:varchar(255)"`
	FromName       string    `json:"fromName" gorm:"type:varchar(255)"`
	ToAddress      string    `json:"toAddress" gorm:"type:varchar(255)"`
	Subject        string    `json:"subject" gorm:"type:varchar(998)"`
	TextContent    string    `json:"textContent,omitempty"`
	HTMLContent    string    `json:"htmlContent,omitempty"`
	ReceivedAt     time.Time `json:"receivedAt" gorm:"index;not null"`
	HasAttachments bool      `json:"hasAttachments" gorm:"default:false"`
	IsRead         bool      `json:"isRead" gorm:"default:false;index"`
}

// TableName 指定邮件表名。
func (Email) TableName() string { return "emails" }

// EmailSummary 邮件列表项，不包含正文。
type EmailSummary struct {
	ID             string    `json:"id"`
	MailboxID      string    `json:"mailboxId"`
	FromAddress    string    `json:"fromAddress"`
	FromName       string    `json:"fromName"`
	ToAddress      string    `json:"toAddress"`
	Subject        string    `json:"subject"`
	ReceivedAt     time.Time `json:"receivedAt"`
	HasAttachments bool      `json:"hasAttachments"`
	IsRead         bool      `json:"isRead"`
}

// Summary 返回去掉正文后的邮件摘要。
func (e *Email) Summary() EmailSummary {
	return EmailSummary{
		ID:             e.ID,
		MailboxID:      e.MailboxID,
		FromAddress:    e.FromAddress,
		FromName:       e.FromName,
		ToAddress:      e.ToAddress,
		Subject:        e.Subject,
		ReceivedAt:     e.ReceivedAt,
		HasAttachments: e.HasAttachments,
		IsRead:         e.IsRead,
	}
}

// Envelope 保存邮件时由调用方提供的信封与正文。
type Envelope struct {
	FromAddress    string
	FromName       string
	ToAddress      string
	Subject        string
	TextContent    string
	HTMLContent    string
	HasAttachments bool
}
