package xclient

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/omeyang/xclient/pkg/business/xauth"
	"github.com/omeyang/xclient/pkg/business/xfault"
	"github.com/omeyang/xclient/pkg/config/xconf"
	"github.com/omeyang/xclient/pkg/observability/xlog"
	"github.com/omeyang/xclient/pkg/observability/xmonitor"
	"github.com/omeyang/xclient/pkg/resilience/xretry"
	"github.com/omeyang/xclient/pkg/transport/xpipeline"
	"github.com/omeyang/xclient/pkg/transport/xtransport"
)

// Config 客户端配置，字段标签对应配置文件中的键。
type Config struct {
	// BaseURL 相对路径请求的前缀，为空时请求必须使用完整 URL。
	BaseURL string `koanf:"base_url"`
	// Timeout 单次发送超时。
	Timeout time.Duration `koanf:"timeout"`
	// PublicPaths 免认证路径前缀。
	PublicPaths []string `koanf:"public_paths"`

	Retry   xretry.Policy `koanf:"retry"`
	Auth    AuthConfig    `koanf:"auth"`
	Errors  ErrorsConfig  `koanf:"errors"`
	Monitor MonitorConfig `koanf:"monitor"`
	Breaker BreakerConfig `koanf:"breaker"`
	Redis   RedisConfig   `koanf:"redis"`
	Log     LogConfig     `koanf:"log"`
	// OTel 为 true 且未注入 Observer 时使用全局 OpenTelemetry provider。
	OTel bool `koanf:"otel"`
}

// AuthConfig 凭证刷新配置。
type AuthConfig struct {
	// RefreshURL 刷新端点，为空时不创建默认 HTTP 刷新器。
	RefreshURL       string        `koanf:"refresh_url"`
	ClientID         string        `koanf:"client_id"`
	RefreshThreshold time.Duration `koanf:"refresh_threshold"`
	CheckInterval    time.Duration `koanf:"check_interval"`
	RefreshTimeout   time.Duration `koanf:"refresh_timeout"`
}

// ErrorsConfig 错误中心配置。
type ErrorsConfig struct {
	HistorySize int           `koanf:"history_size"`
	LogoutDelay time.Duration `koanf:"logout_delay"`
}

// MonitorConfig 请求监控配置。
type MonitorConfig struct {
	SlowThreshold time.Duration `koanf:"slow_threshold"`
}

// BreakerConfig 按主机熔断配置。
type BreakerConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Failures    uint32        `koanf:"failures"`
	OpenTimeout time.Duration `koanf:"open_timeout"`
}

// RedisConfig 凭证的 Redis 存储，Addr 为空时使用内存存储。
type RedisConfig struct {
	Addr      string        `koanf:"addr"`
	Password  string        `koanf:"password"`
	DB        int           `koanf:"db"`
	Key       string        `koanf:"key"`
	Retention time.Duration `koanf:"retention"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level    string              `koanf:"level"`
	Format   string              `koanf:"format"`
	File     string              `koanf:"file"`
	Rotation xlog.RotationConfig `koanf:"rotation"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Timeout:     xtransport.DefaultTimeout,
		PublicPaths: append([]string(nil), xpipeline.DefaultPublicPaths...),
		Retry:       xpipeline.DefaultPolicy(),
		Auth: AuthConfig{
			RefreshThreshold: xauth.DefaultRefreshThreshold,
			CheckInterval:    xauth.DefaultCheckInterval,
			RefreshTimeout:   xauth.DefaultRefreshTimeout,
		},
		Errors: ErrorsConfig{
			HistorySize: xfault.DefaultHistorySize,
			LogoutDelay: xfault.DefaultLogoutDelay,
		},
		Monitor: MonitorConfig{SlowThreshold: xmonitor.DefaultSlowThreshold},
		Breaker: BreakerConfig{Failures: 5, OpenTimeout: 30 * time.Second},
		Redis:   RedisConfig{Retention: xauth.DefaultRetention},
		Log:     LogConfig{Level: "info", Format: xlog.FormatText},
	}
}

// Validate 校验配置，返回全部问题。
func (c Config) Validate() error {
	var errs []error
	if c.BaseURL != "" {
		if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("base_url %q must be an absolute URL", c.BaseURL))
		}
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must be >= 0, got %s", c.Timeout))
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.RefreshThreshold < 0 || c.Auth.CheckInterval < 0 || c.Auth.RefreshTimeout < 0 {
		errs = append(errs, errors.New("auth durations must be >= 0"))
	}
	if c.Errors.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("errors.history_size must be > 0, got %d", c.Errors.HistorySize))
	}
	if c.Errors.LogoutDelay < 0 {
		errs = append(errs, fmt.Errorf("errors.logout_delay must be >= 0, got %s", c.Errors.LogoutDelay))
	}
	if c.Monitor.SlowThreshold < 0 {
		errs = append(errs, fmt.Errorf("monitor.slow_threshold must be >= 0, got %s", c.Monitor.SlowThreshold))
	}
	if c.Breaker.Enabled && c.Breaker.OpenTimeout < 0 {
		errs = append(errs, fmt.Errorf("breaker.open_timeout must be >= 0, got %s", c.Breaker.OpenTimeout))
	}
	if _, err := xlog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", xlog.FormatText, xlog.FormatJSON, xlog.FormatTint:
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text|json|tint", c.Log.Format))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// LoadConfig 从文件加载配置：缺失的键保留默认值，加载后校验。
func LoadConfig(path string) (Config, error) {
	l, err := xconf.New(path)
	if err != nil {
		return Config{}, err
	}
	return ConfigFrom(l)
}

// ConfigFrom 从已加载的配置解码，用于监视重载。
func ConfigFrom(l *xconf.Loader) (Config, error) {
	cfg := DefaultConfig()
	if err := l.Unmarshal("", &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewLogger 按日志配置构建 logger，cleanup 关闭日志文件。
func (c LogConfig) NewLogger() (*slog.Logger, func() error, error) {
	b := xlog.New().SetLevelString(c.Level).SetFormat(c.Format)
	if c.File != "" {
		b.SetRotation(c.File, c.Rotation)
	}
	return b.Build()
}
