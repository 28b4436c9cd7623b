package domain

// InboundMessage 是解析后的入站邮件。
type InboundMessage struct {
	FromAddress string
	FromName    string
	To          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []InboundAttachment
}

// InboundAttachment 入站邮件中的附件，Content 为解码后的原始字节。
type InboundAttachment struct {
	Filename string
	MimeType string
	Content  []byte
}
