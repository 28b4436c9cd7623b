package domain

import (
	"net/mail"
	"regexp"
	"strings"
)

// 地址长度限制（RFC 5321/5322）。
const (
	MaxAddressLength   = 254
	MinLocalPartLength = 3
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
)

var (
	localPartRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*[a-z0-9]$`)
	domainRegex    = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)
)

// NormalizeAddress 去除首尾空白并转为小写。
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// SplitAddress 拆分为本地部分和域名，格式非法时返回 ErrInvalidAddress。
func SplitAddress(address string) (string, string, error) {
	address = NormalizeAddress(address)
	if address == "" || len(address) > MaxAddressLength {
		return "", "", ErrInvalidAddress
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address {
		return "", "", ErrInvalidAddress
	}

	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", ErrInvalidAddress
	}
	return address[:at], address[at+1:], nil
}

// ValidateLocalPart 校验自定义邮箱前缀。
func ValidateLocalPart(localPart string) error {
	if len(localPart) < MinLocalPartLength || len(localPart) > MaxLocalPartLength {
		return ErrInvalidAddress
	}
	if !localPartRegex.MatchString(localPart) {
		return ErrInvalidAddress
	}
	// 不允许连续的特殊字符
	for _, seq := range []string{"..", ".-", "-.", "--", "__", "_.", "._", "-_", "_-"} {
		if strings.Contains(localPart, seq) {
			return ErrInvalidAddress
		}
	}
	return nil
}

// ValidateDomain 校验域名格式。
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > MaxDomainLength {
		return ErrInvalidDomain
	}
	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}
