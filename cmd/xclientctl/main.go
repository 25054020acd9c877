// xclientctl 是 xclient 客户端的命令行工具，用于调试请求链路与观察运行统计。
//
// 用法:
//
//	xclientctl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config     配置文件路径（YAML 或 JSON）
//	    --base-url   覆盖配置中的 base_url
//	-t, --timeout    覆盖单次请求超时
//	    --log-level  覆盖日志级别 (debug/info/warn/error)
//
// 命令:
//
//	request <url>    经完整链路发送一次请求
//	classify         对状态码或消息执行错误分类
//	config           打印生效的配置
//	watch <url>      周期性请求并暴露 Prometheus 指标，配置文件变更时热更新重试策略
//
// 退出码:
//
//	0: 成功
//	1: 请求失败或运行错误
//	2: 参数错误
//
// 示例:
//
//	xclientctl -c client.yaml request /api/users
//	xclientctl request -X POST -d '{"name":"a"}' https://example.com/api/users
//	xclientctl classify --status 401
//	xclientctl -c client.yaml watch --interval 5s --metrics-addr :9100 /healthz
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"
)

// 版本信息（可通过 -ldflags 注入）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

// createApp 创建 CLI 应用，输出写入 stdout / stderr。
func createApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "xclientctl",
		Usage:     "xclient 请求链路调试工具",
		Version:   fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径（YAML 或 JSON）",
			},
			&cli.StringFlag{
				Name:  "base-url",
				Usage: "覆盖配置中的 base_url",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "覆盖单次请求超时",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "覆盖日志级别 (debug/info/warn/error)",
			},
		},
		Commands:       createCommands(),
		DefaultCommand: "help",
		// 退出码统一由 run() 映射，禁止框架直接 os.Exit。
		ExitErrHandler: func(_ context.Context, cmd *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(cmd.Root().ErrWriter, err)
			}
		},
	}
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return runApp(ctx, os.Args, os.Stdout, os.Stderr)
}

// runApp 执行命令并返回退出码。
func runApp(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	stdout, stderr = &lockedWriter{w: stdout}, &lockedWriter{w: stderr}
	err := createApp(stdout, stderr).Run(ctx, args)
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(stderr, "参数错误: %v\n", usageErr)
		return 2
	}
	if isCLIUsageError(err) {
		fmt.Fprintf(stderr, "参数错误: %v\n", err)
		return 2
	}
	fmt.Fprintf(stderr, "错误: %v\n", err)
	return 1
}

// usageError 命令参数错误，映射为退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// exitError 命令已完成输出，仅需设置退出码。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// cliUsagePrefixes urfave/cli 与 flag 包的参数错误前缀。
var cliUsagePrefixes = []string{
	"flag provided but not defined",
	"flag needs an argument",
	"invalid value",
	"invalid boolean",
	"No help topic for",
	"Required flag",
	"Required flags",
}

func isCLIUsageError(err error) bool {
	msg := err.Error()
	for _, p := range cliUsagePrefixes {
		if strings.HasPrefix(msg, p) {
			return true
		}
	}
	return false
}
