package security

import (
	"bytes"
	"mime"
	"path/filepath"
	"strings"
)

const fallbackFilename = "attachment"

// 可被浏览器直接执行或渲染脚本的类型，下载时一律降级为二进制流
var activeMimeTypes = map[string]bool{
	"text/html":              true,
	"application/xhtml+xml":  true,
	"image/svg+xml":          true,
	"text/javascript":        true,
	"application/javascript": true,
	"text/xml":               true,
	"application/xml":        true,
}

var dangerousExtensions = map[string]bool{
	".exe":  true,
	".bat":  true,
	".cmd":  true,
	".scr":  true,
	".pif":  true,
	".com":  true,
	".vbs":  true,
	".js":   true,
	".jar":  true,
	".php":  true,
	".asp":  true,
	".jsp":  true,
	".html": true,
	".htm":  true,
	".svg":  true,
}

// 可执行文件魔数
var executableSignatures = [][]byte{
	{0x4D, 0x5A},             // PE
	{0x7F, 0x45, 0x4C, 0x46}, // ELF
	{0xFE, 0xED, 0xFA, 0xCE}, // Mach-O
	{0xCE, 0xFA, 0xED, 0xFE}, // Mach-O (reverse)
}

// DownloadPolicy 描述附件下载时的响应头。
type DownloadPolicy struct {
	Filename    string
	ContentType string
	Inline      bool
}

// ContentDisposition 生成 Content-Disposition 头，文件名按 RFC 2231 编码。
func (p DownloadPolicy) ContentDisposition() string {
	disposition := "attachment"
	if p.Inline {
		disposition = "inline"
	}
	return mime.FormatMediaType(disposition, map[string]string{"filename": p.Filename})
}

// ResolveDownload 根据文件名、声明的 MIME 类型和内容头部决定下载方式。
//
// 邮件附件来自任意发件人，声明的类型不可信：危险扩展名、可执行魔数和
// 会执行脚本的类型都按 application/octet-stream 强制下载。
func ResolveDownload(filename, mimeType string, content []byte) DownloadPolicy {
	policy := DownloadPolicy{
		Filename:    SanitizeFilename(filename),
		ContentType: "application/octet-stream",
	}

	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return policy
	}
	mediaType = strings.ToLower(mediaType)

	if activeMimeTypes[mediaType] || dangerousExtensions[strings.ToLower(filepath.Ext(policy.Filename))] {
		return policy
	}
	if isExecutable(content) {
		return policy
	}

	policy.ContentType = mediaType
	policy.Inline = strings.HasPrefix(mediaType, "image/") || mediaType == "application/pdf" || mediaType == "text/plain"
	return policy
}

// SanitizeFilename 去掉路径部分和控制字符。
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7F || r == '"' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return fallbackFilename
	}
	return name
}

func isExecutable(header []byte) bool {
	for _, sig := range executableSignatures {
		if bytes.HasPrefix(header, sig) {
			return true
		}
	}
	return false
}
