package xretry

import (
	"math"
	"math/rand/v2"
	"time"
)

// jitterFactor 抖动上限占基础延迟的比例。
const jitterFactor = 0.1

// randFloat 返回 [0,1) 的随机数，测试中可替换。
var randFloat = rand.Float64

// BaseDelayFor 返回第 attempt 次重试（从 1 开始）的无抖动延迟，不做上限截断。
func BaseDelayFor(p Policy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	p = p.normalized()
	base := p.BaseDelay
	switch p.Strategy {
	case StrategyImmediate:
		return 0
	case StrategyFixed:
		return base
	case StrategyLinear:
		return clampDuration(float64(base) * float64(attempt))
	default:
		return clampDuration(float64(base) * math.Pow(2, float64(attempt-1)))
	}
}

// Delay 返回第 attempt 次重试前的等待时间：基础延迟叠加 [0, 0.1×delay) 的抖动，
// 再截断到 MaxDelay。结果永不为负，也不会超过 MaxDelay（MaxDelay > 0 时）。
func Delay(p Policy, attempt int) time.Duration {
	d := BaseDelayFor(p, attempt)
	if d > 0 {
		d = clampDuration(float64(d) + randFloat()*jitterFactor*float64(d))
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func clampDuration(f float64) time.Duration {
	if f <= 0 {
		return 0
	}
	if f >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}
