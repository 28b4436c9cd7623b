package domain

import (
	"time"
)

// Mailbox 表示一个有时效的临时邮箱。
//
// Address 全局唯一；IPAddress 仅作为创建来源标记，不参与鉴权。
type Mailbox struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address      string    `json:"address" gorm:"type:varchar(255);uniqueIndex;not null"`
	CreatedAt    time.Time `json:"createdAt" gorm:"not null"`
	ExpiresAt    time.Time `json:"expiresAt" gorm:"index;not null"`
	IPAddress    string    `json:"-" gorm:"type:varchar(64);index"`
	LastAccessed time.Time `json:"lastAccessed"`
}

// TableName 指定邮箱表名。
func (Mailbox) TableName() string { return "mailboxes" }

// IsExpired 判断邮箱在给定时间点是否已过期（expiresAt <= now）。
func (m *Mailbox) IsExpired(now time.Time) bool {
	return !m.ExpiresAt.After(now)
}
