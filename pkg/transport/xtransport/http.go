package xtransport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/omeyang/xclient/pkg/observability/xmetrics"
)

const (
	// DefaultTimeout 默认单次发送超时。
	DefaultTimeout = 30 * time.Second

	// maxResponseSize 最大响应体大小（10MB）。
	maxResponseSize = 10 * 1024 * 1024
)

// 观测指标常量。
const (
	MetricsComponent  = "xtransport"
	MetricsOpSend     = "send"
	MetricsAttrMethod = "http.method"
	MetricsAttrPath   = "http.path"
	MetricsAttrStatus = "http.status_code"
)

// =============================================================================
// HTTP 发送方
// =============================================================================

// HTTPSenderConfig HTTP 发送方配置。
type HTTPSenderConfig struct {
	// BaseURL 相对路径的拼接前缀。
	BaseURL string

	// Timeout 默认单次发送超时。
	Timeout time.Duration

	// TLSConfig TLS 配置。
	TLSConfig *tls.Config

	// Client 自定义 HTTP 客户端，设置后 Timeout/TLSConfig 不再生效。
	Client *http.Client

	// DefaultHeader 每个请求都会带上的请求头（请求自身的同名头优先）。
	DefaultHeader http.Header

	// Observer 可观测性接口。
	Observer xmetrics.Observer
}

// HTTPSender 基于 net/http 的 [Sender] 实现。
type HTTPSender struct {
	client        *http.Client
	baseURL       string
	timeout       time.Duration
	defaultHeader http.Header
	observer      xmetrics.Observer
}

var _ Sender = (*HTTPSender)(nil)

// NewHTTPSender 创建 HTTP 发送方。
func NewHTTPSender(cfg HTTPSenderConfig) *HTTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				TLSClientConfig:     cfg.TLSConfig,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	observer := cfg.Observer
	if observer == nil {
		observer = xmetrics.NoopObserver{}
	}

	return &HTTPSender{
		client:        client,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		timeout:       cfg.Timeout,
		defaultHeader: cfg.DefaultHeader.Clone(),
		observer:      observer,
	}
}

// Send 发送请求。
//
// 超时以请求的 Timeout 为准，未设置时使用发送方默认值。
// 2xx 以外的响应以 [*Error] 返回，响应体已完整读取。
func (s *HTTPSender) Send(ctx context.Context, req *Request) (resp *Response, err error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	method := req.MethodOrDefault()
	url := s.BuildURL(req.URL)

	ctx, span := xmetrics.Start(ctx, s.observer, xmetrics.SpanOptions{
		Component: MetricsComponent,
		Operation: MetricsOpSend,
		Kind:      xmetrics.KindClient,
		Attrs: []xmetrics.Attr{
			{Key: MetricsAttrMethod, Value: method},
			{Key: MetricsAttrPath, Value: sanitizeURL(url)},
		},
	})
	defer func() {
		var attrs []xmetrics.Attr
		if resp != nil {
			attrs = append(attrs, xmetrics.Attr{Key: MetricsAttrStatus, Value: resp.StatusCode})
		}
		span.End(xmetrics.Result{Err: err, Attrs: attrs})
	}()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("xtransport: create request failed: %w", err)
	}
	s.setHeaders(httpReq, req)

	start := time.Now()
	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, NewNetworkError(method, sanitizeURL(url), err)
	}
	defer func() { _ = httpResp.Body.Close() }() //nolint:errcheck // Close 错误无法传播

	lr := &io.LimitedReader{R: httpResp.Body, N: maxResponseSize + 1}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, NewNetworkError(method, sanitizeURL(url), fmt.Errorf("read body: %w", err))
	}
	if len(data) > maxResponseSize {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrResponseTooLarge, maxResponseSize)
	}

	resp = &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
		Duration:   time.Since(start),
	}
	if !resp.OK() {
		return resp, NewStatusError(method, sanitizeURL(url), resp)
	}
	return resp, nil
}

// BuildURL 拼接请求 URL，绝对 URL 原样返回。
func (s *HTTPSender) BuildURL(path string) string {
	if isAbsoluteURL(path) || s.baseURL == "" {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return s.baseURL + path
}

// Client 返回底层 HTTP 客户端。
func (s *HTTPSender) Client() *http.Client {
	return s.client
}

func (s *HTTPSender) setHeaders(httpReq *http.Request, req *Request) {
	httpReq.Header.Set("Accept", "application/json")
	for k, vs := range s.defaultHeader {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	for k, vs := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
}

// isAbsoluteURL 判断 path 是否为绝对 URL（scheme 大小写不敏感）。
func isAbsoluteURL(path string) bool {
	if len(path) >= 8 && strings.EqualFold(path[:8], "https://") {
		return true
	}
	return len(path) >= 7 && strings.EqualFold(path[:7], "http://")
}

// sanitizeURL 移除查询参数，避免日志与指标高基数。
func sanitizeURL(rawURL string) string {
	if path, _, found := strings.Cut(rawURL, "?"); found {
		return path
	}
	return rawURL
}

// PathOf 返回 URL 的路径部分（无 scheme/host/query），总以 "/" 开头，用于公开路径匹配。
func PathOf(rawURL string) string {
	path := sanitizeURL(rawURL)
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	} else if isAbsoluteURL(path) {
		rest := path[strings.Index(path, "://")+3:]
		path = ""
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			path = rest[i:]
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// HasPathPrefix 报告 path 是否位于 prefix 之下，按路径段边界匹配：
// "/auth/login" 匹配 "/auth/login" 与 "/auth/login/sso"，不匹配 "/auth/login-history"。
func HasPathPrefix(path, prefix string) bool {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// HostOf 返回 URL 的主机部分，相对路径返回空串。
func HostOf(rawURL string) string {
	if !isAbsoluteURL(rawURL) {
		return ""
	}
	rest := rawURL[strings.Index(rawURL, "://")+3:]
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		return rest[:i]
	}
	return rest
}
