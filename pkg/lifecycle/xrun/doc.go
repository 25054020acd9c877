// Package xrun 基于 errgroup 运行一组协作服务，统一处理退出信号与取消原因。
//
//	err := xrun.Run(ctx, nil,
//	    xrun.Ticker(5*time.Second, true, poll),
//	    watcher.Run,
//	)
//	if errors.Is(err, xrun.ErrSignal) {
//	    // 正常的中断退出
//	}
package xrun
