package smtp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"

	"tempinbox/backend/internal/domain"
)

func init() {
	message.CharsetReader = charsetReader
}

// ParseMessage 解析 RFC 5322 报文，提取发件人、收件人、正文和附件。
// 报文头无法解析时返回错误，调用方应拒收该邮件。
func ParseMessage(raw []byte) (*domain.InboundMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message header: %w", err)
	}
	defer mr.Close()

	parsed := &domain.InboundMessage{}

	if subject, err := mr.Header.Subject(); err == nil {
		parsed.Subject = subject
	} else {
		parsed.Subject = mr.Header.Get("Subject")
	}

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		parsed.FromAddress = strings.ToLower(from[0].Address)
		parsed.FromName = from[0].Name
	} else {
		parsed.FromAddress = strings.TrimSpace(mr.Header.Get("From"))
	}

	if to, err := mr.Header.AddressList("To"); err == nil {
		for _, addr := range to {
			parsed.To = append(parsed.To, strings.ToLower(addr.Address))
		}
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
			return nil, fmt.Errorf("read message part: %w", err)
		}
		if part == nil {
			continue
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, params, _ := h.ContentType()
			if !strings.HasPrefix(contentType, "text/") {
				// 内联的非文本内容（如图片）按附件保存
				if err := appendAttachment(parsed, part.Body, params["name"], contentType); err != nil {
					return nil, err
				}
				continue
			}

			body, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("read body part: %w", err)
			}
			switch {
			case contentType == "text/html" && parsed.HTML == "":
				parsed.HTML = string(body)
			case contentType != "text/html" && parsed.Text == "":
				parsed.Text = string(body)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			if err := appendAttachment(parsed, part.Body, filename, contentType); err != nil {
				return nil, err
			}
		}
	}

	return parsed, nil
}

func appendAttachment(parsed *domain.InboundMessage, body io.Reader, filename, contentType string) error {
	content, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read attachment %q: %w", filename, err)
	}
	if filename == "" {
		filename = "unnamed"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	parsed.Attachments = append(parsed.Attachments, domain.InboundAttachment{
		Filename: filename,
		MimeType: contentType,
		Content:  content,
	})
	return nil
}

// charsetReader 把非 UTF-8 字符集转换为 UTF-8。
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	charset = strings.ToLower(strings.TrimSpace(charset))
	switch charset {
	case "", "utf-8", "utf8", "us-ascii":
		return input, nil
	}
	enc := getCharsetEncoding(charset)
	if enc == nil {
		return nil, fmt.Errorf("unhandled charset %q", charset)
	}
	return enc.NewDecoder().Reader(input), nil
}

// getCharsetEncoding 根据字符集名称返回编码
func getCharsetEncoding(charset string) encoding.Encoding {
	switch charset {
	case "gb2312", "gbk", "gb18030":
		return simplifiedchinese.GB18030
	case "big5":
		return traditionalchinese.Big5
	case "shift_jis", "shift-jis", "sjis":
		return japanese.ShiftJIS
	case "euc-jp":
		return japanese.EUCJP
	case "iso-2022-jp":
		return japanese.ISO2022JP
	case "euc-kr", "ks_c_5601-1987":
		return korean.EUCKR
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1
	case "iso-8859-15":
		return charmap.ISO8859_15
	case "windows-1252", "cp1252":
		return charmap.Windows1252
	default:
		return nil
	}
}
