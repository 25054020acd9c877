package xid

import (
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
)

// 测试注入点。
var osHostname = os.Hostname

const (
	// EnvMachineID 直接指定机器 ID 的环境变量（0-65535）。
	EnvMachineID = "XID_MACHINE_ID"

	// EnvHostname 主机名环境变量。
	EnvHostname = "HOSTNAME"
)

// MachineID 获取机器 ID，按以下优先级尝试：
//
//  1. XID_MACHINE_ID 环境变量（0-65535）
//  2. HOSTNAME 环境变量的哈希
//  3. os.Hostname() 的哈希
//  4. 进程 PID 的低 16 位
//
// 哈希方式存在碰撞可能，错误 ID 仅用于日志关联，碰撞不影响正确性。
func MachineID() (int, error) {
	if v := os.Getenv(EnvMachineID); v != "" {
		id, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("xid: invalid %s=%q: %w", EnvMachineID, v, err)
		}
		return int(id), nil
	}
	if h := os.Getenv(EnvHostname); h != "" {
		return hash16(h), nil
	}
	if h, err := osHostname(); err == nil && h != "" {
		return hash16(h), nil
	}
	return os.Getpid() & 0xFFFF, nil
}

func hash16(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s)) //nolint:errcheck // hash.Write 不会返回错误
	return int(h.Sum32() & 0xFFFF)
}
