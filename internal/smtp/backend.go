// Package smtp 实现只接收邮件的 SMTP 服务，把邮件投递到临时邮箱。
package smtp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/domain"
)

const deliveryTimeout = 30 * time.Second

// MailboxLookup 查询未过期的邮箱。
type MailboxLookup interface {
	Lookup(ctx context.Context, address string) (*domain.Mailbox, error)
}

// Deliverer 把解析后的邮件投递到收件邮箱。
type Deliverer interface {
	Deliver(ctx context.Context, recipient string, msg *domain.InboundMessage, source string) (*domain.Email, error)
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接受发往允许域名下现存邮箱的邮件，不提供中继，外部地址一律以 550 拒绝。
type Backend struct {
	mailboxes     MailboxLookup
	deliverer     Deliverer
	domains       map[string]struct{}
	maxRecipients int
	limiter       *ConnectionLimiter
	log           *zap.Logger
}

// NewBackend 创建 SMTP Backend。
func NewBackend(mailboxes MailboxLookup, deliverer Deliverer, allowedDomains []string, maxRecipients int, limiter *ConnectionLimiter, log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	domains := make(map[string]struct{}, len(allowedDomains))
	for _, d := range allowedDomains {
		domains[strings.ToLower(d)] = struct{}{}
	}
	return &Backend{
		mailboxes:     mailboxes,
		deliverer:     deliverer,
		domains:       domains,
		maxRecipients: maxRecipients,
		limiter:       limiter,
		log:           log,
	}
}

// NewServer 按配置创建 go-smtp 服务器。
func NewServer(backend *Backend, cfg config.SMTPConfig) *gosmtp.Server {
	server := gosmtp.NewServer(backend)
	server.Addr = cfg.BindAddr
	server.Domain = cfg.Domain
	server.ReadTimeout = 60 * time.Second
	server.WriteTimeout = 60 * time.Second
	server.MaxMessageBytes = cfg.MaxMessageBytes
	server.MaxRecipients = cfg.MaxRecipients
	return server
}

// NewSession 创建新的 SMTP 会话，超出连接限制时以 421 拒绝。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	ip := remoteIP(c)
	if b.limiter != nil {
		if err := b.limiter.Acquire(ip); err != nil {
			b.log.Warn("smtp connection rejected", zap.String("remote_ip", ip), zap.Error(err))
			return nil, &gosmtp.SMTPError{
				Code:         421,
				EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
				Message:      "too many connections, try again later",
			}
		}
	}
	return &session{backend: b, remoteIP: ip}, nil
}

func remoteIP(c *gosmtp.Conn) string {
	if c == nil || c.Conn() == nil {
		return ""
	}
	addr := c.Conn().RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

type session struct {
	backend     *Backend
	remoteIP    string
	fromAddress string
	recipients  []string
	released    bool
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.fromAddress = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令，只接受允许域名下未过期的邮箱。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)

	_, recipientDomain, err := domain.SplitAddress(addr)
	if err != nil {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	if _, ok := s.backend.domains[recipientDomain]; !ok {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - domain not managed by this server",
		}
	}

	if s.backend.maxRecipients > 0 && len(s.recipients) >= s.backend.maxRecipients {
		return &gosmtp.SMTPError{
			Code:         452,
			EnhancedCode: gosmtp.EnhancedCode{4, 5, 3},
			Message:      "too many recipients",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	if _, err := s.backend.mailboxes.Lookup(ctx, addr); err != nil {
		if errors.Is(err, domain.ErrMailboxNotFound) {
			return &gosmtp.SMTPError{
				Code:         550,
				EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
				Message:      "recipient mailbox not found",
			}
		}
		s.backend.log.Error("smtp recipient lookup failed", zap.String("recipient", addr), zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary failure, try again later",
		}
	}

	for _, existing := range s.recipients {
		if existing == addr {
			return nil
		}
	}
	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 解析邮件并投递给每个收件人。
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	parsed, err := ParseMessage(raw)
	if err != nil {
		s.backend.log.Warn("smtp message rejected", zap.String("remote_ip", s.remoteIP), zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "message could not be parsed",
		}
	}
	if parsed.FromAddress == "" {
		parsed.FromAddress = s.fromAddress
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	delivered := 0
	for _, rcpt := range s.recipients {
		if _, err := s.backend.deliverer.Deliver(ctx, rcpt, parsed, "smtp"); err != nil {
			s.backend.log.Error("smtp delivery failed", zap.String("recipient", rcpt), zap.Error(err))
			continue
		}
		delivered++
	}

	if delivered == 0 && len(s.recipients) > 0 {
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "delivery failed, try again later",
		}
	}
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束，归还连接许可。
func (s *session) Logout() error {
	if !s.released && s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	s.released = true
	return nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
