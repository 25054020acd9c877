package xlog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 支持的格式。
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatTint = "tint"
)

// RotationConfig 文件轮转配置。
type RotationConfig struct {
	// MaxSizeMB 单文件最大 MB，默认 100。
	MaxSizeMB int `koanf:"max_size_mb"`
	// MaxBackups 保留的旧文件数，默认 5。
	MaxBackups int `koanf:"max_backups"`
	// MaxAgeDays 旧文件保留天数，默认 7。
	MaxAgeDays int `koanf:"max_age_days"`
	// Compress 是否压缩旧文件。
	Compress bool `koanf:"compress"`
}

// Builder 日志构建器，非并发安全，构建完成后不应再修改。
type Builder struct {
	output    io.Writer
	levelVar  *slog.LevelVar
	format    string
	addSource bool
	enrich    bool
	noColor   bool
	attrs     []slog.Attr
	rotator   *lumberjack.Logger
	err       error
}

// New 创建构建器：stderr、info、text、启用 enrich。
func New() *Builder {
	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelInfo)
	return &Builder{
		output:   os.Stderr,
		levelVar: levelVar,
		format:   FormatText,
		enrich:   true,
	}
}

// SetOutput 设置输出。
func (b *Builder) SetOutput(w io.Writer) *Builder {
	if w != nil {
		b.output = w
	}
	return b
}

// SetLevel 设置级别。
func (b *Builder) SetLevel(level slog.Level) *Builder {
	b.levelVar.Set(level)
	return b
}

// SetLevelString 以字符串设置级别，无法解析时 Build 返回错误。
func (b *Builder) SetLevelString(s string) *Builder {
	level, err := ParseLevel(s)
	if err != nil {
		b.err = err
		return b
	}
	return b.SetLevel(level)
}

// SetFormat 设置格式：text/json/tint，空串视为 text。
func (b *Builder) SetFormat(format string) *Builder {
	normalized := strings.ToLower(strings.TrimSpace(format))
	switch normalized {
	case "":
		b.format = FormatText
	case FormatText, FormatJSON, FormatTint:
		b.format = normalized
	default:
		b.err = fmt.Errorf("xlog: unknown format %q", format)
	}
	return b
}

// SetNoColor 关闭 tint 格式的颜色输出。
func (b *Builder) SetNoColor(v bool) *Builder {
	b.noColor = v
	return b
}

// SetAddSource 是否记录源码位置。
func (b *Builder) SetAddSource(enable bool) *Builder {
	b.addSource = enable
	return b
}

// SetEnrich 是否从 context 注入关联信息。
func (b *Builder) SetEnrich(enable bool) *Builder {
	b.enrich = enable
	return b
}

// With 追加固定属性。
func (b *Builder) With(attrs ...slog.Attr) *Builder {
	b.attrs = append(b.attrs, attrs...)
	return b
}

// SetRotation 输出到文件并按大小轮转。
func (b *Builder) SetRotation(filename string, cfg RotationConfig) *Builder {
	if strings.TrimSpace(filename) == "" {
		b.err = errors.New("xlog: empty rotation filename")
		return b
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 7
	}
	b.rotator = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}
	b.output = b.rotator
	return b
}

// Build 构建 logger。cleanup 关闭轮转文件，可重复调用。
func (b *Builder) Build() (*slog.Logger, func() error, error) {
	if b.err != nil {
		return nil, nil, b.err
	}

	var handler slog.Handler
	switch b.format {
	case FormatJSON:
		handler = slog.NewJSONHandler(b.output, &slog.HandlerOptions{Level: b.levelVar, AddSource: b.addSource})
	case FormatTint:
		handler = tint.NewHandler(b.output, &tint.Options{
			Level:      b.levelVar,
			AddSource:  b.addSource,
			TimeFormat: time.RFC3339,
			NoColor:    b.noColor || b.rotator != nil,
		})
	default:
		handler = slog.NewTextHandler(b.output, &slog.HandlerOptions{Level: b.levelVar, AddSource: b.addSource})
	}

	if b.enrich {
		// base 非 nil，忽略错误
		enriched, _ := NewEnrichHandler(handler) //nolint:errcheck // handler 非 nil
		handler = enriched
	}
	if len(b.attrs) > 0 {
		handler = handler.WithAttrs(b.attrs)
	}

	var once sync.Once
	rotator := b.rotator
	cleanup := func() error {
		var err error
		once.Do(func() {
			if rotator != nil {
				err = rotator.Close()
			}
		})
		return err
	}
	return slog.New(handler), cleanup, nil
}

// LevelVar 返回级别变量，可在运行时调整级别。
func (b *Builder) LevelVar() *slog.LevelVar {
	return b.levelVar
}

// OrDefault 返回 l，nil 时返回 slog.Default()。
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
