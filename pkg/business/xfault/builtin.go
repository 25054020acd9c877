package xfault

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"

	"google.golang.org/grpc/codes"
)

// builtin 内置处理：按类别选择提示与后续动作。
func (c *Center) builtin(ctx context.Context, e *NormalizedError, hctx HandleContext) Result {
	switch e.Category {
	case CategoryAuthentication:
		return c.handleAuthentication(ctx, e, hctx)
	case CategoryAuthorization:
		return c.notifyResult(ctx, authorizationMessage(e), e.Severity, hctx)
	case CategoryValidation:
		return c.notifyResult(ctx, validationMessage(e), e.Severity, hctx)
	case CategoryNetwork, CategoryServer, CategoryBusiness, CategoryUnknown:
		if e.Code == CodeCanceled {
			// 调用方主动取消不打扰用户
			return Result{Handled: true, Action: ActionNone}
		}
		return c.notifyResult(ctx, e.DisplayMessage(), e.Severity, hctx)
	default:
		return c.notifyResult(ctx, e.DisplayMessage(), e.Severity, hctx)
	}
}

func (c *Center) notifyResult(ctx context.Context, msg string, sev Severity, hctx HandleContext) Result {
	c.notify(ctx, msg, sev, hctx)
	action := ActionNotified
	if hctx.Silent {
		action = ActionNone
	}
	return Result{Handled: true, Action: action, Message: msg}
}

// =============================================================================
// 认证
// =============================================================================

// authRule 认证失败判定规则，按顺序匹配，先命中者决定是否需要重新登录。
type authRule struct {
	name  string
	match func(e *NormalizedError) bool
}

var sessionCodes = []string{
	"TOKEN_EXPIRED",
	"TOKEN_INVALID",
	"INVALID_TOKEN",
	"SESSION_EXPIRED",
	"UNAUTHORIZED",
}

var sessionPhrases = []string{
	"expired",
	"invalid token",
	"token invalid",
	"unauthorized",
	"unauthenticated",
	"not logged in",
}

// sessionRules 命中任意一条即视为会话失效。
var sessionRules = []authRule{
	{"status", func(e *NormalizedError) bool {
		return e.Status == http.StatusUnauthorized
	}},
	{"rpc", func(e *NormalizedError) bool {
		return e.Source == SourceRPC && e.Code == codes.Unauthenticated.String()
	}},
	{"code", func(e *NormalizedError) bool {
		return slices.Contains(sessionCodes, strings.ToUpper(e.Code))
	}},
	{"message", func(e *NormalizedError) bool {
		msg := strings.ToLower(e.Message)
		return slices.ContainsFunc(sessionPhrases, func(p string) bool {
			return strings.Contains(msg, p)
		})
	}},
}

// sessionInvalid 返回命中的规则名，未命中返回空串。
func sessionInvalid(e *NormalizedError) string {
	for _, r := range sessionRules {
		if r.match(e) {
			return r.name
		}
	}
	return ""
}

// handleAuthentication 认证失败：
// 主动登出期间静默；免认证请求或非会话失效只提示；否则提示并延迟强制登出。
func (c *Center) handleAuthentication(ctx context.Context, e *NormalizedError, hctx HandleContext) Result {
	if c.session != nil && c.session.IsLoggingOut() {
		return Result{Handled: true, Action: ActionSuppressed}
	}
	res := c.notifyResult(ctx, e.DisplayMessage(), e.Severity, hctx)
	if hctx.Public {
		return res
	}
	rule := sessionInvalid(e)
	if rule == "" {
		return res
	}
	if c.scheduleLogout(ctx) {
		c.logger.InfoContext(ctx, "xfault: forced logout scheduled",
			slog.String("error_id", e.ID),
			slog.String("rule", rule),
			slog.Duration("delay", c.logoutDelay),
		)
		res.Action = ActionLogout
	}
	return res
}

// =============================================================================
// 授权与校验
// =============================================================================

func authorizationMessage(e *NormalizedError) string {
	msg := e.DisplayMessage()
	perm, ok := e.Detail(DetailRequiredPermission)
	if !ok {
		return msg
	}
	if s, _ := perm.(string); s != "" { //nolint:errcheck // 类型不符视为缺失
		return fmt.Sprintf("%s (requires %s)", strings.TrimRight(msg, "."), s)
	}
	return msg
}

// validationMessage 合并字段错误为一条多行提示，没有字段错误时使用通用文案。
func validationMessage(e *NormalizedError) string {
	raw, ok := e.Detail(DetailValidationErrors)
	if !ok {
		return e.DisplayMessage()
	}
	lines := validationLines(raw)
	if len(lines) == 0 {
		return e.DisplayMessage()
	}
	return strings.Join(lines, "\n")
}

// validationLines 支持 {"field": "msg"}、{"field": ["msg", ...]}、
// [{"field": "...", "message": "..."}] 与 ["msg", ...] 四种形态。
func validationLines(raw any) []string {
	switch v := raw.(type) {
	case map[string]any:
		var lines []string
		for _, field := range slices.Sorted(maps.Keys(v)) {
			for _, msg := range messagesOf(v[field]) {
				lines = append(lines, field+": "+msg)
			}
		}
		return lines
	case []any:
		var lines []string
		for _, item := range v {
			switch it := item.(type) {
			case string:
				if it != "" {
					lines = append(lines, it)
				}
			case map[string]any:
				field, _ := it["field"].(string) //nolint:errcheck // 缺失视为空
				msg, _ := it["message"].(string) //nolint:errcheck // 缺失视为空
				if msg == "" {
					continue
				}
				if field != "" {
					msg = field + ": " + msg
				}
				lines = append(lines, msg)
			}
		}
		return lines
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

func messagesOf(v any) []string {
	switch m := v.(type) {
	case string:
		if m != "" {
			return []string{m}
		}
	case []any:
		out := make([]string, 0, len(m))
		for _, item := range m {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
