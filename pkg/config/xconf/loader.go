package xconf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Format 配置格式。
type Format string

const (
	// FormatYAML .yaml/.yml。
	FormatYAML Format = "yaml"

	// FormatJSON .json。
	FormatJSON Format = "json"
)

// FormatOf 根据扩展名识别格式。
func FormatOf(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %q", ErrUnsupportedFormat, ext)
	}
}

// Option 加载选项。
type Option func(*Loader)

// WithDelim 设置键分隔符，默认 "."。
func WithDelim(delim string) Option {
	return func(l *Loader) {
		if delim != "" {
			l.delim = delim
		}
	}
}

// WithTag 设置结构体标签名，默认 "koanf"。
func WithTag(tag string) Option {
	return func(l *Loader) {
		if tag != "" {
			l.tag = tag
		}
	}
}

// Loader 基于 koanf 的配置加载器，并发安全。
//
// Reload 解析成功后整体替换 koanf 实例，失败时保留旧配置。
type Loader struct {
	mu     sync.RWMutex
	k      *koanf.Koanf
	path   string
	format Format
	delim  string
	tag    string
}

func newLoader(path string, format Format, opts []Option) *Loader {
	l := &Loader{path: path, format: format, delim: ".", tag: "koanf"}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// New 从文件加载配置，格式由扩展名决定。
func New(path string, opts ...Option) (*Loader, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	l := newLoader(path, format, opts)
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// NewFromBytes 从字节加载配置。空数据得到空配置。
func NewFromBytes(data []byte, format Format, opts ...Option) (*Loader, error) {
	l := newLoader("", format, opts)
	k, err := l.parse(data)
	if err != nil {
		return nil, err
	}
	l.k = k
	return l, nil
}

func (l *Loader) parse(data []byte) (*koanf.Koanf, error) {
	var parser koanf.Parser
	switch l.format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, l.format)
	}
	k := koanf.New(l.delim)
	if len(data) == 0 {
		return k, nil
	}
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	return k, nil
}

// Reload 重新读取配置文件。
func (l *Loader) Reload() error {
	if l.path == "" {
		return ErrNotReloadable
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	k, err := l.parse(data)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.k = k
	l.mu.Unlock()
	return nil
}

// Koanf 返回当前的 koanf 实例。Reload 之后旧实例保持不变。
func (l *Loader) Koanf() *koanf.Koanf {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.k
}

// Unmarshal 将 path 下的配置解码到 target，path 为空时解码全部。
//
// 字符串形式的时长（"1s"、"500ms"）解码为 time.Duration。
// target 中已有的字段值在配置缺失对应键时保持不变，因此可以先填入默认值再解码。
func (l *Loader) Unmarshal(path string, target any) error {
	k := l.Koanf()
	if err := k.UnmarshalWithConf(path, target, koanf.UnmarshalConf{Tag: l.tag}); err != nil {
		return fmt.Errorf("%w: %w", ErrUnmarshalFailed, err)
	}
	return nil
}

// Path 返回配置文件路径，从字节创建时为空。
func (l *Loader) Path() string { return l.path }

// Format 返回配置格式。
func (l *Loader) Format() Format { return l.format }
