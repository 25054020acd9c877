package xid

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/sony/sonyflake/v2"
)

var (
	// ErrNilGenerator 生成器为 nil 或未通过 NewGenerator 创建。
	ErrNilGenerator = errors.New("xid: nil generator (use NewGenerator to create)")

	// ErrInvalidConfig 配置无效。
	ErrInvalidConfig = errors.New("xid: invalid config")
)

// NewRequestID 生成请求 ID（UUIDv7）。
// v7 依赖系统随机源，失败时退回 v4。
func NewRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Generator 基于 Sonyflake 的有序 ID 生成器，并发安全。
type Generator struct {
	sf *sonyflake.Sonyflake
}

// Option 生成器选项。
type Option func(*sonyflake.Settings)

// WithMachineID 指定机器 ID 获取函数。
func WithMachineID(fn func() (int, error)) Option {
	return func(s *sonyflake.Settings) {
		if fn != nil {
			s.MachineID = fn
		}
	}
}

// NewGenerator 创建生成器。默认机器 ID 取自 [MachineID]。
func NewGenerator(opts ...Option) (*Generator, error) {
	settings := sonyflake.Settings{MachineID: MachineID}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	sf, err := sonyflake.New(settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &Generator{sf: sf}, nil
}

// Next 生成下一个 ID。
func (g *Generator) Next() (int64, error) {
	if g == nil || g.sf == nil {
		return 0, ErrNilGenerator
	}
	return g.sf.NextID()
}

// NextString 生成下一个 ID 的 36 进制字符串形式。
func (g *Generator) NextString() (string, error) {
	id, err := g.Next()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 36), nil
}
