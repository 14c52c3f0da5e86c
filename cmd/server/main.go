// cmd/server/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Corphon/PickupDesk/internal/app"
	"github.com/Corphon/PickupDesk/internal/config"
	"github.com/Corphon/PickupDesk/internal/utils"
)

func main() {
	log.Println("🚀 启动 PickupDesk 服务器...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("%v", err)
	}

	if err := utils.InitLogger(cfg.LogDir, "server", utils.ParseLogLevel(cfg.LogLevel)); err != nil {
		log.Printf("⚠️ 日志文件不可用，仅输出到控制台: %v", err)
	}
	defer utils.CloseLogger()
	logger := utils.GetLogger()

	application, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}
	log.Printf("✅ 服务初始化完成，存储: %s，端口: %s", cfg.StoreDriver, cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("server stopped with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	log.Println("✅ 服务器优雅关闭完成")
}
