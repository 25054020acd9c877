package xauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/omeyang/xclient/pkg/transport/xtransport"
)

// =============================================================================
// Refresher 刷新器
// =============================================================================

// Refresher 用当前凭证换取新凭证。
type Refresher interface {
	Refresh(ctx context.Context, current *Credential) (*Credential, error)
}

// RefresherFunc 函数适配器。
type RefresherFunc func(ctx context.Context, current *Credential) (*Credential, error)

// Refresh 实现 [Refresher]。
func (f RefresherFunc) Refresh(ctx context.Context, current *Credential) (*Credential, error) {
	return f(ctx, current)
}

// refreshResponse 刷新接口响应（RFC 6749 §5.1）。
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// HTTPRefresher 通过 refresh_token 授权类型刷新凭证。
type HTTPRefresher struct {
	sender   xtransport.Sender
	url      string
	clientID string
	timeout  time.Duration
	now      func() time.Time
}

// HTTPRefresherOption HTTP 刷新器选项。
type HTTPRefresherOption func(*HTTPRefresher)

// WithClientID 随请求提交 client_id。
func WithClientID(id string) HTTPRefresherOption {
	return func(r *HTTPRefresher) {
		r.clientID = id
	}
}

// WithRequestTimeout 设置单次刷新请求超时。
func WithRequestTimeout(d time.Duration) HTTPRefresherOption {
	return func(r *HTTPRefresher) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewHTTPRefresher 创建 HTTP 刷新器，refreshURL 可以是相对路径（由 sender 拼接 BaseURL）。
func NewHTTPRefresher(sender xtransport.Sender, refreshURL string, opts ...HTTPRefresherOption) (*HTTPRefresher, error) {
	if sender == nil {
		return nil, ErrNilSender
	}
	if refreshURL == "" {
		return nil, ErrMissingRefreshURL
	}
	r := &HTTPRefresher{
		sender: sender,
		url:    refreshURL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Refresh 实现 [Refresher]。
// 响应未返回新的 refresh_token 时沿用当前的刷新令牌。
func (r *HTTPRefresher) Refresh(ctx context.Context, current *Credential) (*Credential, error) {
	if current == nil || current.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	// 凭据通过 POST body 传递，避免出现在 URL 中（RFC 6749 §2.3.1）
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {current.RefreshToken},
	}
	if r.clientID != "" {
		form.Set("client_id", r.clientID)
	}
	req := &xtransport.Request{
		Method: http.MethodPost,
		URL:    r.url,
		Header: http.Header{
			"Content-Type": {"application/x-www-form-urlencoded"},
			"Accept":       {"application/json"},
		},
		Body:    []byte(form.Encode()),
		Timeout: r.timeout,
		Public:  true,
	}

	resp, err := r.sender.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("xauth: refresh request: %w", err)
	}
	if !resp.OK() {
		return nil, xtransport.NewStatusError(http.MethodPost, r.url, resp)
	}

	var rr refreshResponse
	if err := json.Unmarshal(resp.Body, &rr); err != nil {
		return nil, fmt.Errorf("xauth: decode refresh response: %w", err)
	}
	if rr.AccessToken == "" {
		return nil, ErrEmptyAccessToken
	}

	now := r.now()
	cred := &Credential{
		AccessToken:  rr.AccessToken,
		RefreshToken: rr.RefreshToken,
		ObtainedAt:   now,
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = current.RefreshToken
	}
	if rr.ExpiresIn > 0 {
		cred.ExpiresAt = now.Add(time.Duration(rr.ExpiresIn) * time.Second)
	}
	cred.normalize(now)
	return cred, nil
}
