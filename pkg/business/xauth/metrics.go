package xauth

// =============================================================================
// 指标名称常量
// =============================================================================

const (
	// MetricsComponent 组件名称。
	MetricsComponent = "xauth"

	// MetricsOpRefresh 刷新操作。
	MetricsOpRefresh = "Refresh"

	// MetricsAttrTrigger 刷新触发来源。
	MetricsAttrTrigger = "trigger"
)

// 刷新触发来源。
const (
	triggerExpiry     = "expiry"
	triggerForce      = "force"
	triggerRejected   = "rejected"
	triggerBackground = "background"
)
