package domain

// AttachmentChunk 大附件内容的一个有序分片，只写不改。
type AttachmentChunk struct {
	ID           string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AttachmentID string `json:"attachmentId" gorm:"type:varchar(36);not null;uniqueIndex:idx_chunk_attachment_index,priority:1"`
	ChunkIndex   int    `json:"chunkIndex" gorm:"not null;uniqueIndex:idx_chunk_attachment_index,priority:2"`
	Content      string `json:"-"`
}

// TableName 指定分块表名。
func (AttachmentChunk) TableName() string { return "attachment_chunks" }
