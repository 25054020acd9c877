// Package xconf 基于 koanf 加载 YAML/JSON 配置，并通过 fsnotify 监视文件变更。
//
// 加载器只负责读取、解码与重载；默认值与校验由使用方完成：
//
//	cfg := xclient.DefaultConfig()
//	l, err := xconf.New("client.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := l.Unmarshal("", &cfg); err != nil {
//	    return err
//	}
//
// 监视在 ctx 上阻塞运行，适合放入 xrun 组：
//
//	w, err := xconf.Watch(l, func(l *xconf.Loader, err error) { ... })
//	g.Go(w.Run)
package xconf
