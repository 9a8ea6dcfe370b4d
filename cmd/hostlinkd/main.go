package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	"github.com/taoyao-code/hostlink/internal/agent"
	cfgpkg "github.com/taoyao-code/hostlink/internal/config"
	"github.com/taoyao-code/hostlink/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（默认读HOSTLINK_CONFIG或configs/example.yaml）")
	flag.Parse()

	// 1) 加载配置
	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	log := zap.L()

	// 3) 组装应答端
	a, err := agent.New(cfg, log)
	if err != nil {
		log.Error("应答端初始化失败", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	// 4) 运行直到退出信号
	if err := a.Run(); err != nil {
		log.Error("应答端异常退出", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
