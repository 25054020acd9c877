package xfault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/omeyang/xclient/pkg/context/xctx"
	"github.com/omeyang/xclient/pkg/resilience/xbreaker"
	"github.com/omeyang/xclient/pkg/resilience/xretry"
	"github.com/omeyang/xclient/pkg/transport/xtransport"
)

// 明细与上下文中的约定 key。
const (
	DetailValidationErrors   = "validation_errors"
	DetailRequiredPermission = "required_permission"

	ctxKeyRequestID     = "request_id"
	ctxKeyAttempt       = "attempt"
	ctxKeyOperation     = "operation"
	ctxKeyRetryAttempts = "retry_attempts"
	ctxKeyURL           = "url"
)

// 错误码。
const (
	CodeNetworkError = "NETWORK_ERROR"
	CodeTimeout      = "TIMEOUT"
	CodeCircuitOpen  = "CIRCUIT_OPEN"
	CodeCanceled     = "CANCELED"
)

// statusCoder 其他传输实现可通过该接口暴露状态码。
type statusCoder interface {
	StatusCode() int
}

type timeouter interface {
	Timeout() bool
}

// keywordRule 消息关键字规则，按顺序匹配，先命中者生效。
type keywordRule struct {
	category Category
	keywords []string
}

// keywordRules 只在没有结构化状态时兜底使用。
var keywordRules = []keywordRule{
	{CategoryNetwork, []string{"network", "timeout", "timed out", "connection refused", "unreachable"}},
	{CategoryAuthentication, []string{"auth", "login", "token", "unauthorized"}},
	{CategoryAuthorization, []string{"permission", "forbidden"}},
	{CategoryValidation, []string{"validation", "invalid"}},
}

// categoryFromMessage 按关键字推导类别。
func categoryFromMessage(msg string) Category {
	lower := strings.ToLower(msg)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category
			}
		}
	}
	return CategoryUnknown
}

// categoryFromStatus 按状态码推导类别，非失败状态返回 Unknown。
func categoryFromStatus(code int) Category {
	switch {
	case code == http.StatusUnauthorized:
		return CategoryAuthentication
	case code == http.StatusForbidden:
		return CategoryAuthorization
	case code == http.StatusUnprocessableEntity:
		return CategoryValidation
	case code >= 500:
		return CategoryServer
	case code >= 400:
		return CategoryBusiness
	default:
		return CategoryUnknown
	}
}

// severityFromStatus 按状态码推导严重级别。
func severityFromStatus(code int) Severity {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return SeverityHigh
	case code >= 500:
		return SeverityCritical
	case code == http.StatusUnprocessableEntity:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Classify 将任意失败标准化。
//
// 接受 *NormalizedError（原样返回，因此分类是幂等的）、*xtransport.Response、*xtransport.Error、
// gRPC 状态错误、熔断拒绝、超时/网络错误、任意 error、string 与 nil。
func (c *Center) Classify(failure any) *NormalizedError {
	return c.ClassifyContext(context.Background(), failure)
}

// ClassifyContext 同 [Center.Classify]，并把 ctx 中的请求关联信息写入 Context。
func (c *Center) ClassifyContext(ctx context.Context, failure any) *NormalizedError {
	if ne, ok := failure.(*NormalizedError); ok && ne != nil {
		return ne
	}
	if err, ok := failure.(error); ok {
		var ne *NormalizedError
		if errors.As(err, &ne) {
			return ne
		}
	}

	b := c.draft()
	switch f := failure.(type) {
	case nil:
		b.Message = "unknown failure"
	case string:
		b.Message = f
		b.Source = SourceMessage
		b.serverText = true
	case *xtransport.Response:
		if f == nil {
			b.Message = "unknown failure"
			break
		}
		fromResponse(b, f.StatusCode, f.Body)
	case error:
		c.fromError(b, f)
	default:
		b.Message = fmt.Sprint(f)
	}
	c.finish(ctx, b)
	return b
}

// NewError 以显式类别创建标准化错误，message 视为可展示文本。
func (c *Center) NewError(ctx context.Context, category Category, code, message string, cause error) *NormalizedError {
	b := c.draft()
	b.Category = category
	b.Code = code
	b.Message = message
	b.Source = SourceMessage
	b.serverText = message != ""
	b.Original = cause
	c.finish(ctx, b)
	return b
}

func (c *Center) draft() *NormalizedError {
	return &NormalizedError{
		ID:        c.nextID(),
		Timestamp: c.now(),
		Category:  CategoryUnknown,
		Severity:  SeverityMedium,
		details:   make(map[string]any),
		context:   make(map[string]any),
	}
}

func (c *Center) fromError(b *NormalizedError, err error) {
	b.Original = err
	b.Message = err.Error()
	if n := xretry.AttemptsOf(err); n > 0 {
		b.context[ctxKeyRetryAttempts] = n
	}

	var te *xtransport.Error
	if errors.As(err, &te) {
		b.context[ctxKeyURL] = te.URL
		if te.HasResponse() {
			fromResponse(b, te.StatusCode(), te.Body())
			return
		}
		fromNoResponse(b, te.Timeout(), te.Canceled())
		return
	}

	if xbreaker.IsOpen(err) {
		b.Source = SourceTransport
		b.Category = CategoryNetwork
		b.Severity = SeverityHigh
		b.Code = CodeCircuitOpen
		b.Message = "service temporarily unavailable"
		b.serverText = false
		return
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		fromRPC(b, st)
		return
	}

	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() > 0 {
		fromResponse(b, sc.StatusCode(), nil)
		b.Message = err.Error()
		return
	}

	if errors.Is(err, context.Canceled) {
		fromNoResponse(b, false, true)
		return
	}
	var to timeouter
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &to) && to.Timeout()) {
		fromNoResponse(b, true, false)
		return
	}
	var ne net.Error
	if errors.As(err, &ne) {
		fromNoResponse(b, false, false)
		return
	}
	// 其余交给 finish 的关键字兜底
}

func fromNoResponse(b *NormalizedError, timeout, canceled bool) {
	b.Source = SourceTransport
	b.Category = CategoryNetwork
	b.Severity = SeverityHigh
	switch {
	case timeout:
		b.Code = CodeTimeout
		b.Message = "request timed out"
	case canceled:
		b.Code = CodeCanceled
		b.Message = "request canceled"
		b.Severity = SeverityLow
	default:
		b.Code = CodeNetworkError
		b.Message = "network error"
	}
}

// responseBody 常见网关错误响应体。
type responseBody struct {
	Message            string          `json:"message"`
	Msg                string          `json:"msg"`
	Error              json.RawMessage `json:"error"`
	Detail             string          `json:"detail"`
	Code               json.RawMessage `json:"code"`
	Details            map[string]any  `json:"details"`
	ValidationErrors   any             `json:"validation_errors"`
	Errors             any             `json:"errors"`
	RequiredPermission string          `json:"required_permission"`
}

func fromResponse(b *NormalizedError, code int, body []byte) {
	b.Source = SourceResponse
	b.Status = code
	b.Category = categoryFromStatus(code)
	b.Severity = severityFromStatus(code)
	b.Message = http.StatusText(code)
	if b.Message == "" {
		b.Message = "HTTP " + strconv.Itoa(code)
	}

	if len(body) == 0 {
		return
	}
	var rb responseBody
	if err := json.Unmarshal(body, &rb); err != nil {
		if text := strings.TrimSpace(string(body)); text != "" && len(text) <= 200 && !strings.HasPrefix(text, "<") {
			b.Message = text
			b.serverText = true
		}
		return
	}

	if msg := firstNonEmpty(rb.Message, rb.Msg, rawString(rb.Error), rb.Detail); msg != "" {
		b.Message = msg
		b.serverText = true
	}
	b.Code = rawString(rb.Code)
	for k, v := range rb.Details {
		b.details[k] = v
	}
	if rb.ValidationErrors != nil {
		b.details[DetailValidationErrors] = rb.ValidationErrors
	} else if rb.Errors != nil {
		b.details[DetailValidationErrors] = rb.Errors
	}
	if rb.RequiredPermission != "" {
		b.details[DetailRequiredPermission] = rb.RequiredPermission
	}
}

func fromRPC(b *NormalizedError, st *status.Status) {
	b.Source = SourceRPC
	b.Code = st.Code().String()
	b.Message = st.Message()
	b.serverText = st.Message() != ""
	switch st.Code() {
	case codes.Unauthenticated:
		b.Category, b.Severity = CategoryAuthentication, SeverityHigh
	case codes.PermissionDenied:
		b.Category, b.Severity = CategoryAuthorization, SeverityHigh
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		b.Category, b.Severity = CategoryValidation, SeverityMedium
	case codes.Unavailable, codes.DeadlineExceeded:
		b.Category, b.Severity = CategoryNetwork, SeverityHigh
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unimplemented:
		b.Category, b.Severity = CategoryServer, SeverityCritical
	default:
		b.Category, b.Severity = CategoryBusiness, SeverityLow
	}
}

// finish 补齐类别与严重级别并写入上下文。
func (c *Center) finish(ctx context.Context, b *NormalizedError) {
	if b.Category == CategoryUnknown {
		if cat := categoryFromMessage(b.Message); cat != CategoryUnknown {
			b.Category = cat
			b.Severity = DefaultSeverity(cat)
		}
	}
	if b.Source == SourceMessage || b.Source == SourceError {
		if b.Status == 0 && b.Category != CategoryUnknown {
			b.Severity = DefaultSeverity(b.Category)
		}
	}
	if ctx == nil {
		return
	}
	if id := xctx.RequestID(ctx); id != "" {
		b.context[ctxKeyRequestID] = id
	}
	if n := xctx.Attempt(ctx); n > 0 {
		b.context[ctxKeyAttempt] = n
	}
	if op := xctx.Operation(ctx); op != "" {
		b.context[ctxKeyOperation] = op
	}
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// rawString 将 JSON 字符串或数字转为字符串，其他类型返回空串。
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
