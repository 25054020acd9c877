package xfault

import (
	"fmt"
	"strings"
)

// Category 失败类别，封闭枚举。
type Category int

const (
	// CategoryUnknown 无法分类。
	CategoryUnknown Category = iota
	// CategoryAuthentication 凭证过期、缺失或无效。
	CategoryAuthentication
	// CategoryAuthorization 权限不足。
	CategoryAuthorization
	// CategoryValidation 请求数据不合法。
	CategoryValidation
	// CategoryNetwork 网络不可达或超时。
	CategoryNetwork
	// CategoryServer 服务端 5xx。
	CategoryServer
	// CategoryBusiness 其他 4xx 业务失败。
	CategoryBusiness
)

var categoryNames = [...]string{
	CategoryUnknown:        "UNKNOWN",
	CategoryAuthentication: "AUTHENTICATION",
	CategoryAuthorization:  "AUTHORIZATION",
	CategoryValidation:     "VALIDATION",
	CategoryNetwork:        "NETWORK",
	CategoryServer:         "SERVER",
	CategoryBusiness:       "BUSINESS",
}

// Categories 返回全部类别。
func Categories() []Category {
	return []Category{
		CategoryUnknown, CategoryAuthentication, CategoryAuthorization, CategoryValidation,
		CategoryNetwork, CategoryServer, CategoryBusiness,
	}
}

func (c Category) String() string {
	if c >= 0 && int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// MarshalText 实现 encoding.TextMarshaler。
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (c *Category) UnmarshalText(b []byte) error {
	v, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseCategory 解析类别名（大小写不敏感）。
func ParseCategory(s string) (Category, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range categoryNames {
		if n == name {
			return Category(i), nil
		}
	}
	return CategoryUnknown, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Severity 严重级别。
type Severity int

const (
	// SeverityLow 低。
	SeverityLow Severity = iota
	// SeverityMedium 中。
	SeverityMedium
	// SeverityHigh 高。
	SeverityHigh
	// SeverityCritical 严重。
	SeverityCritical
)

var severityNames = [...]string{
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

func (s Severity) String() string {
	if s >= 0 && int(s) < len(severityNames) {
		return severityNames[s]
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// MarshalText 实现 encoding.TextMarshaler。
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseSeverity 解析严重级别名（大小写不敏感）。
func ParseSeverity(str string) (Severity, error) {
	name := strings.ToUpper(strings.TrimSpace(str))
	for i, n := range severityNames {
		if n == name {
			return Severity(i), nil
		}
	}
	return SeverityMedium, fmt.Errorf("%w: %q", ErrUnknownSeverity, str)
}

// DefaultSeverity 类别的默认严重级别（仅用于没有状态码的失败）。
func DefaultSeverity(c Category) Severity {
	switch c {
	case CategoryAuthentication, CategoryAuthorization, CategoryNetwork:
		return SeverityHigh
	case CategoryServer:
		return SeverityCritical
	case CategoryValidation, CategoryUnknown:
		return SeverityMedium
	case CategoryBusiness:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// fallbackMessage 类别的静态提示文案，服务端未提供可展示文本时使用。
func fallbackMessage(c Category) string {
	switch c {
	case CategoryAuthentication:
		return "Your session has expired. Please sign in again."
	case CategoryAuthorization:
		return "You do not have permission to perform this action."
	case CategoryValidation:
		return "Some of the submitted data is invalid. Please check and try again."
	case CategoryNetwork:
		return "Network connection failed. Please check your connection and try again."
	case CategoryServer:
		return "The server encountered an error. Please try again later."
	case CategoryBusiness:
		return "The request could not be completed."
	case CategoryUnknown:
		return "An unexpected error occurred."
	default:
		return "An unexpected error occurred."
	}
}
