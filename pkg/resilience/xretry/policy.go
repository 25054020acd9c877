package xretry

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Strategy 退避策略。
type Strategy string

const (
	// StrategyExponential base×2^(n-1)。
	StrategyExponential Strategy = "exponential"
	// StrategyLinear base×n。
	StrategyLinear Strategy = "linear"
	// StrategyFixed 固定 base。
	StrategyFixed Strategy = "fixed"
	// StrategyImmediate 不等待。
	StrategyImmediate Strategy = "immediate"
)

// ParseStrategy 解析退避策略名（大小写不敏感）。
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyExponential, StrategyLinear, StrategyFixed, StrategyImmediate:
		return st, nil
	case "":
		return StrategyExponential, nil
	default:
		return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidPolicy, s)
	}
}

// Condition 重试条件标签。
type Condition string

const (
	// ConditionNetwork 未得到响应的传输失败。
	ConditionNetwork Condition = "network"
	// ConditionTimeout 超时。
	ConditionTimeout Condition = "timeout"
	// ConditionServerError 5xx 响应。
	ConditionServerError Condition = "server_error"
	// ConditionRateLimited 429 响应。
	ConditionRateLimited Condition = "rate_limited"
)

// AllConditions 全部内置条件。
func AllConditions() []Condition {
	return []Condition{ConditionNetwork, ConditionTimeout, ConditionServerError, ConditionRateLimited}
}

// ParseCondition 解析条件名。
func ParseCondition(s string) (Condition, error) {
	c := Condition(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(AllConditions(), c) {
		return "", fmt.Errorf("%w: unknown condition %q", ErrInvalidPolicy, s)
	}
	return c, nil
}

// Policy 重试策略。
//
// Conditions 为 nil 时使用全部内置条件；显式的空切片表示不重试任何错误。
// MaxDelay <= 0 表示不设上限。
type Policy struct {
	// MaxRetries 首次尝试之外的最大重试次数。
	MaxRetries int `koanf:"max_retries"`

	// BaseDelay 基础延迟。
	BaseDelay time.Duration `koanf:"base_delay"`

	// MaxDelay 延迟上限（含抖动）。
	MaxDelay time.Duration `koanf:"max_delay"`

	// Strategy 退避策略，为空时使用 exponential。
	Strategy Strategy `koanf:"strategy"`

	// Conditions 允许重试的条件。
	Conditions []Condition `koanf:"conditions"`

	// Predicate 自定义判定，只在错误匹配 Conditions 后调用，返回 false 时放弃重试。
	// attempt 为已执行的重试次数。
	Predicate func(err error, attempt int) bool `koanf:"-"`

	// OnRetry 每次等待前调用，attempt 为即将进行的重试序号（从 1 开始）。
	// 回调 panic 会被恢复并记录，不影响重试流程。
	OnRetry func(err error, attempt int, delay time.Duration) `koanf:"-"`
}

// DefaultPolicy 默认策略：3 次重试、1s 基础延迟、10s 上限、指数退避、全部条件。
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		Strategy:   StrategyExponential,
		Conditions: AllConditions(),
	}
}

// NoRetry 不重试的策略。
func NoRetry() Policy {
	return Policy{Strategy: StrategyImmediate, Conditions: []Condition{}}
}

// Validate 校验策略。
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0, got %d", ErrInvalidPolicy, p.MaxRetries)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("%w: base_delay must be >= 0, got %s", ErrInvalidPolicy, p.BaseDelay)
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("%w: max_delay %s < base_delay %s", ErrInvalidPolicy, p.MaxDelay, p.BaseDelay)
	}
	if p.Strategy != "" {
		if _, err := ParseStrategy(string(p.Strategy)); err != nil {
			return err
		}
	}
	for _, c := range p.Conditions {
		if _, err := ParseCondition(string(c)); err != nil {
			return err
		}
	}
	return nil
}

// normalized 返回补齐默认值后的副本。
func (p Policy) normalized() Policy {
	if p.Strategy == "" {
		p.Strategy = StrategyExponential
	}
	if p.Conditions == nil {
		p.Conditions = AllConditions()
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

// Merge 返回以 p 为基础、o 中非零字段覆盖后的策略。
// 零值视为未设置，因此无法通过 Merge 把 MaxRetries 覆盖为 0，需要时直接传入完整策略。
func (p Policy) Merge(o Policy) Policy {
	if o.MaxRetries > 0 {
		p.MaxRetries = o.MaxRetries
	}
	if o.BaseDelay > 0 {
		p.BaseDelay = o.BaseDelay
	}
	if o.MaxDelay > 0 {
		p.MaxDelay = o.MaxDelay
	}
	if o.Strategy != "" {
		p.Strategy = o.Strategy
	}
	if o.Conditions != nil {
		p.Conditions = slices.Clone(o.Conditions)
	}
	if o.Predicate != nil {
		p.Predicate = o.Predicate
	}
	if o.OnRetry != nil {
		p.OnRetry = o.OnRetry
	}
	return p
}

// Allows 报告策略是否包含条件 c。
func (p Policy) Allows(c Condition) bool {
	if p.Conditions == nil {
		return c != ""
	}
	return slices.Contains(p.Conditions, c)
}
