package domain

import "time"

const (
	// LargeAttachmentThreshold 内容长度超过该值的附件改为分块存储。
	LargeAttachmentThreshold = 500000
	// AttachmentChunkSize 每个分块的固定长度，最后一块可以更短。
	AttachmentChunkSize = 500000
)

// Attachment 表示邮件附件。
//
// IsLarge 为 true 时 Content 为空，完整内容只存在于 AttachmentChunk 中；
// Size 始终是调用方声明的原始大小，与是否分块无关。
type Attachment struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	EmailID     string    `json:"emailId" gorm:"type:varchar(36);index;not null"`
	Filename    string    `json:"filename" gorm:"type:varchar(255)"`
	MimeType    string    `json:"mimeType" gorm:"type:varchar(255)"`
	Content     string    `json:"-"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt" gorm:"not null"`
	IsLarge     bool      `json:"isLarge" gorm:"default:false"`
	ChunksCount int       `json:"chunksCount" gorm:"default:0"`
}

// TableName 指定附件表名。
func (Attachment) TableName() string { return "attachments" }

// ChunkCount 计算给定内容长度需要的分块数量（向上取整）。
func ChunkCount(length int) int {
	if length <= 0 {
		return 0
	}
	return (length + AttachmentChunkSize - 1) / AttachmentChunkSize
}

// NeedsChunking 判断内容是否超过分块阈值。
func NeedsChunking(length int) bool {
	return length > LargeAttachmentThreshold
}
