package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/omeyang/xclient/pkg/business/xauth"
	"github.com/omeyang/xclient/pkg/business/xclient"
	"github.com/omeyang/xclient/pkg/business/xfault"
	"github.com/omeyang/xclient/pkg/config/xconf"
	"github.com/omeyang/xclient/pkg/lifecycle/xrun"
	"github.com/omeyang/xclient/pkg/observability/xlog"
	"github.com/omeyang/xclient/pkg/transport/xpipeline"
	"github.com/omeyang/xclient/pkg/transport/xtransport"
)

const (
	defaultWatchInterval   = 5 * time.Second
	metricsShutdownTimeout = 5 * time.Second
)

// errWatchDone watch 达到 --count 次数后用于结束运行组。
var errWatchDone = errors.New("watch done")

func createCommands() []*cli.Command {
	return []*cli.Command{
		createRequestCommand(),
		createClassifyCommand(),
		createConfigCommand(),
		createWatchCommand(),
	}
}

// credentialFlags 初始凭证参数，request 与 watch 共用。
func credentialFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "token",
			Usage: "初始访问令牌",
		},
		&cli.StringFlag{
			Name:  "refresh-token",
			Usage: "初始刷新令牌",
		},
	}
}

// =============================================================================
// request
// =============================================================================

func createRequestCommand() *cli.Command {
	return &cli.Command{
		Name:      "request",
		Aliases:   []string{"r"},
		Usage:     "经完整链路发送一次请求",
		ArgsUsage: "<url>",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "method",
				Aliases: []string{"X"},
				Usage:   "HTTP 方法",
				Value:   http.MethodGet,
			},
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "请求体，未指定 Content-Type 时按 JSON 发送",
			},
			&cli.StringSliceFlag{
				Name:    "header",
				Aliases: []string{"H"},
				Usage:   "请求头，格式 'Key: Value'，可重复",
			},
			&cli.BoolFlag{
				Name:  "public",
				Usage: "按公开请求发送（不携带凭证，失败只提示）",
			},
			&cli.BoolFlag{
				Name:  "stats",
				Usage: "请求结束后打印统计",
			},
		}, credentialFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			target := cmd.Args().First()
			if target == "" {
				return usagef("request 命令需要指定 url")
			}
			req, err := buildRequest(cmd.String("method"), target, cmd.String("data"), cmd.StringSlice("header"))
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, cleanup, err := newClient(cmd, cfg, credentialFrom(cmd))
			if err != nil {
				return err
			}
			defer cleanup()

			var opts []xpipeline.CallOption
			if cmd.Bool("public") {
				opts = append(opts, xpipeline.Public())
			}
			return cmdRequest(ctx, cmd.Root().Writer, c, req, cmd.Bool("stats"), opts...)
		},
	}
}

// buildRequest 解析命令行参数为请求。
func buildRequest(method, target, data string, headers []string) (*xtransport.Request, error) {
	req := &xtransport.Request{
		Method: strings.ToUpper(method),
		URL:    target,
		Header: make(http.Header),
	}
	for _, h := range headers {
		k, v, ok := strings.Cut(h, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, usagef("无效的请求头 %q，格式应为 'Key: Value'", h)
		}
		req.Header.Add(k, strings.TrimSpace(v))
	}
	if data != "" {
		req.Body = []byte(data)
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	return req, nil
}

func cmdRequest(ctx context.Context, w io.Writer, c *xclient.Client, req *xtransport.Request, stats bool, opts ...xpipeline.CallOption) error {
	resp, err := c.Do(ctx, req, opts...)
	if err != nil {
		printFailure(w, err)
		if stats {
			printStats(w, c.Stats())
		}
		return &exitError{code: 1}
	}

	fmt.Fprintf(w, "%d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	if len(resp.Body) > 0 {
		fmt.Fprintln(w, string(resp.Body))
	}
	if stats {
		printStats(w, c.Stats())
	}
	return nil
}

// =============================================================================
// classify
// =============================================================================

func createClassifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "classify",
		Usage: "对状态码或消息执行错误分类",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "status",
				Usage: "HTTP 状态码",
			},
			&cli.StringFlag{
				Name:  "message",
				Usage: "错误消息（无状态码时按客户端错误分类）",
			},
			&cli.StringFlag{
				Name:  "code",
				Usage: "服务端业务错误码",
			},
			&cli.StringFlag{
				Name:  "body",
				Usage: "原始响应体，优先于 --message / --code",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			failure, err := classifyInput(cmd.Int("status"), cmd.String("message"), cmd.String("code"), cmd.String("body"))
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, cleanup, err := newClient(cmd, cfg, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			printNormalized(cmd.Root().Writer, c.Classify(failure))
			return nil
		},
	}
}

// classifyInput 把命令行参数还原为分类输入：有状态码时构造带响应的传输错误，否则为纯文本消息。
func classifyInput(status int, message, code, body string) (any, error) {
	switch {
	case status > 0:
		if status < 100 || status > 599 {
			return nil, usagef("无效的状态码 %d", status)
		}
		if body == "" && (message != "" || code != "") {
			body = responseBody(message, code)
		}
		return xtransport.NewStatusError(http.MethodGet, "/", &xtransport.Response{
			StatusCode: status,
			Body:       []byte(body),
		}), nil
	case message != "":
		return message, nil
	default:
		return nil, usagef("classify 命令需要 --status 或 --message")
	}
}

func responseBody(message, code string) string {
	var parts []string
	if message != "" {
		parts = append(parts, fmt.Sprintf("%q:%q", "message", message))
	}
	if code != "" {
		parts = append(parts, fmt.Sprintf("%q:%q", "code", code))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// =============================================================================
// config
// =============================================================================

func createConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "打印生效的配置（默认值、配置文件与命令行覆盖合并后）",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			printConfig(cmd.Root().Writer, cfg)
			return nil
		},
	}
}

// =============================================================================
// watch
// =============================================================================

func createWatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "周期性请求并输出统计，配置文件变更时热更新重试策略",
		ArgsUsage: "<url>",
		Flags: append([]cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "请求间隔",
				Value:   defaultWatchInterval,
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "请求次数，0 表示直到收到信号",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Prometheus 指标监听地址，为空时不暴露",
			},
		}, credentialFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			target := cmd.Args().First()
			if target == "" {
				return usagef("watch 命令需要指定 url")
			}
			interval := cmd.Duration("interval")
			if interval <= 0 {
				return usagef("无效的请求间隔 %s", interval)
			}
			count := cmd.Int("count")
			if count < 0 {
				return usagef("无效的请求次数 %d", count)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, cleanup, err := newClient(cmd, cfg, credentialFrom(cmd))
			if err != nil {
				return err
			}
			defer cleanup()

			return cmdWatch(ctx, cmd.Root().Writer, c, watchOptions{
				target:      target,
				interval:    interval,
				count:       count,
				metricsAddr: cmd.String("metrics-addr"),
				configPath:  cmd.String("config"),
			})
		},
	}
}

type watchOptions struct {
	target      string
	interval    time.Duration
	count       int
	metricsAddr string
	configPath  string
}

func cmdWatch(ctx context.Context, w io.Writer, c *xclient.Client, o watchOptions) error {
	if err := c.Start(); err != nil {
		return err
	}

	var polls int
	services := []func(ctx context.Context) error{
		xrun.Ticker(o.interval, true, func(ctx context.Context) error {
			polls++
			poll(ctx, w, c, o.target)
			if o.count > 0 && polls >= o.count {
				printStats(w, c.Stats())
				return errWatchDone
			}
			return nil
		}),
	}

	if o.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := reg.Register(c.Collector()); err != nil {
			return err
		}
		srv := &http.Server{
			Addr:              o.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: metricsShutdownTimeout,
		}
		services = append(services, xrun.Serve(srv, metricsShutdownTimeout))
	}

	if o.configPath != "" {
		l, err := xconf.New(o.configPath)
		if err != nil {
			return err
		}
		watcher, err := xconf.Watch(l, func(l *xconf.Loader, err error) {
			reloadPolicy(w, c, l, err)
		})
		if err != nil {
			return err
		}
		services = append(services, watcher.Run)
	}

	err := xrun.Run(ctx, []xrun.Option{xrun.WithName("xclientctl-watch")}, services...)
	switch {
	case err == nil, errors.Is(err, errWatchDone), errors.Is(err, xrun.ErrSignal), errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

// poll 发送一次 GET 并输出一行结果，失败不会终止 watch。
func poll(ctx context.Context, w io.Writer, c *xclient.Client, target string) {
	start := time.Now()
	resp, err := c.Get(ctx, target)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		ne := c.Classify(err)
		fmt.Fprintf(w, "%s  FAIL  %s  %s\n", start.Format(time.TimeOnly), ne.Category, elapsed)
		return
	}
	fmt.Fprintf(w, "%s  %d  %s\n", start.Format(time.TimeOnly), resp.StatusCode, elapsed)
}

// reloadPolicy 配置文件变更时更新默认重试策略，解析失败保留原策略。
func reloadPolicy(w io.Writer, c *xclient.Client, l *xconf.Loader, err error) {
	if err != nil {
		fmt.Fprintf(w, "配置重载失败: %v\n", err)
		return
	}
	cfg, err := xclient.ConfigFrom(l)
	if err != nil {
		fmt.Fprintf(w, "配置重载失败: %v\n", err)
		return
	}
	if err := c.SetRetryPolicy(cfg.Retry); err != nil {
		fmt.Fprintf(w, "重试策略无效: %v\n", err)
		return
	}
	fmt.Fprintf(w, "重试策略已更新: max_retries=%d base_delay=%s\n", cfg.Retry.MaxRetries, cfg.Retry.BaseDelay)
}

// =============================================================================
// 公共
// =============================================================================

// loadConfig 合并默认值、配置文件与全局参数覆盖。
func loadConfig(cmd *cli.Command) (xclient.Config, error) {
	cfg := xclient.DefaultConfig()
	if path := cmd.String("config"); path != "" {
		loaded, err := xclient.LoadConfig(path)
		if errors.Is(err, xclient.ErrInvalidConfig) {
			return xclient.Config{}, usagef("%v", err)
		}
		if err != nil {
			return xclient.Config{}, err
		}
		cfg = loaded
	}
	if cmd.IsSet("base-url") {
		cfg.BaseURL = cmd.String("base-url")
	}
	if cmd.IsSet("timeout") {
		cfg.Timeout = cmd.Duration("timeout")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return xclient.Config{}, usagef("%v", err)
	}
	return cfg, nil
}

func credentialFrom(cmd *cli.Command) *xauth.Credential {
	token := cmd.String("token")
	if token == "" {
		return nil
	}
	return &xauth.Credential{
		AccessToken:  token,
		RefreshToken: cmd.String("refresh-token"),
	}
}

// newClient 创建客户端：日志写入 ErrWriter（配置了日志文件时写文件），通知打印到 ErrWriter。
func newClient(cmd *cli.Command, cfg xclient.Config, cred *xauth.Credential) (*xclient.Client, func(), error) {
	errOut := cmd.Root().ErrWriter

	b := xlog.New().SetLevelString(cfg.Log.Level).SetFormat(cfg.Log.Format)
	if cfg.Log.File != "" {
		b.SetRotation(cfg.Log.File, cfg.Log.Rotation)
	} else {
		b.SetOutput(errOut)
	}
	logger, closeLog, err := b.Build()
	if err != nil {
		return nil, nil, err
	}

	opts := []xclient.Option{
		xclient.WithLogger(logger),
		xclient.WithNotifier(xfault.NotifierFunc(func(_ context.Context, msg string, sev xfault.Severity) {
			fmt.Fprintf(errOut, "[%s] %s\n", sev, msg)
		})),
	}
	if cred != nil {
		opts = append(opts, xclient.WithCredential(cred))
	}
	c, err := xclient.New(cfg, opts...)
	if err != nil {
		_ = closeLog()
		return nil, nil, err
	}
	cleanup := func() {
		if err := c.Close(); err != nil {
			logger.Warn("close client", slog.String("error", err.Error()))
		}
		_ = closeLog()
	}
	return c, cleanup, nil
}

func printFailure(w io.Writer, err error) {
	var ne *xfault.NormalizedError
	if !errors.As(err, &ne) {
		fmt.Fprintf(w, "请求失败: %v\n", err)
		return
	}
	fmt.Fprintln(w, "请求失败")
	printNormalized(w, ne)
}

func printNormalized(w io.Writer, ne *xfault.NormalizedError) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "category\t%s\n", ne.Category)
	fmt.Fprintf(tw, "severity\t%s\n", ne.Severity)
	if ne.Status > 0 {
		fmt.Fprintf(tw, "status\t%d\n", ne.Status)
	}
	if ne.Code != "" {
		fmt.Fprintf(tw, "code\t%s\n", ne.Code)
	}
	fmt.Fprintf(tw, "message\t%s\n", ne.Message)
	fmt.Fprintf(tw, "display\t%s\n", ne.DisplayMessage())
	if id := ne.RequestID(); id != "" {
		fmt.Fprintf(tw, "request_id\t%s\n", id)
	}
	_ = tw.Flush()
}

func printStats(w io.Writer, s xclient.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "requests\ttotal=%d\tsucceeded=%d\tfailed=%d\tslow=%d\tavg=%s\n",
		s.Requests.Total, s.Requests.Succeeded, s.Requests.Failed, s.Requests.Slow, s.Requests.AvgDuration.Round(time.Millisecond))
	fmt.Fprintf(tw, "retries\toperations=%d\tattempted=%d\trecovered=%d\texhausted=%d\n",
		s.Retries.Operations, s.Retries.Attempted, s.Retries.SucceededAfterRetry, s.Retries.FailedAfterRetry)
	fmt.Fprintf(tw, "refresh\ttotal=%d\tsucceeded=%d\tfailed=%d\tjoined=%d\n",
		s.Refresh.Refreshes, s.Refresh.Succeeded, s.Refresh.Failed, s.Refresh.Joined)
	fmt.Fprintf(tw, "errors\trecent=%d\tlast_hour=%d\n", s.Errors.Total, s.Errors.LastHour)
	for _, host := range slices.Sorted(maps.Keys(s.Breakers)) {
		fmt.Fprintf(tw, "breaker\t%s\t%s\n", host, s.Breakers[host])
	}
	_ = tw.Flush()
}

func printConfig(w io.Writer, cfg xclient.Config) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := [][2]any{
		{"base_url", cfg.BaseURL},
		{"timeout", cfg.Timeout},
		{"public_paths", strings.Join(cfg.PublicPaths, ",")},
		{"retry.max_retries", cfg.Retry.MaxRetries},
		{"retry.base_delay", cfg.Retry.BaseDelay},
		{"retry.max_delay", cfg.Retry.MaxDelay},
		{"retry.strategy", cfg.Retry.Strategy},
		{"retry.conditions", cfg.Retry.Conditions},
		{"auth.refresh_url", cfg.Auth.RefreshURL},
		{"auth.refresh_threshold", cfg.Auth.RefreshThreshold},
		{"auth.check_interval", cfg.Auth.CheckInterval},
		{"auth.refresh_timeout", cfg.Auth.RefreshTimeout},
		{"errors.history_size", cfg.Errors.HistorySize},
		{"errors.logout_delay", cfg.Errors.LogoutDelay},
		{"monitor.slow_threshold", cfg.Monitor.SlowThreshold},
		{"breaker.enabled", cfg.Breaker.Enabled},
		{"breaker.failures", cfg.Breaker.Failures},
		{"breaker.open_timeout", cfg.Breaker.OpenTimeout},
		{"redis.addr", cfg.Redis.Addr},
		{"log.level", cfg.Log.Level},
		{"log.format", cfg.Log.Format},
		{"log.file", cfg.Log.File},
		{"otel", cfg.OTel},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%v\n", r[0], r[1])
	}
	_ = tw.Flush()
}

// lockedWriter 串行化并发输出，watch 的轮询、通知与重载回调共用同一输出。
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
