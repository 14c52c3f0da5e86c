// cmd/terminal/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/Corphon/PickupDesk/internal/client"
	"github.com/Corphon/PickupDesk/internal/config"
	"github.com/Corphon/PickupDesk/internal/terminal"
	"github.com/Corphon/PickupDesk/internal/utils"
)

// terminal is the counter-side scanner: codes come from SCANNER_DEVICE (one per
// line) or from the keyboard. "y" confirms a prompt, an empty line dismisses.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if cfg.OperatorToken == "" {
		log.Println("警告: 未设置OPERATOR_TOKEN，服务器将拒绝核销请求")
	}

	if err := utils.InitLogger(cfg.LogDir, "terminal", utils.ParseLogLevel(cfg.LogLevel)); err != nil {
		log.Printf("⚠️ 日志文件不可用: %v", err)
	}
	defer utils.CloseLogger()
	logger := utils.GetLogger()
	// outcomes go to the console; keep the log quiet there
	logger.SetLogLevel(utils.WARNING)

	term := terminal.New(
		terminal.NewLineCamera(cfg.ScannerDevice),
		client.NewHTTPVerifier(cfg.ServerURL, cfg.OperatorToken, cfg.VerifyTimeout),
		terminal.DisplayFunc(printOutcome),
		terminal.Options{
			VerifyTimeout:  cfg.VerifyTimeout,
			ResumeCooldown: cfg.ResumeCooldown,
			SessionID:      uuid.NewString(),
			Logger:         logger,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go readConsole(term)

	fmt.Printf("PickupDesk terminal → %s\n", cfg.ServerURL)
	if err := term.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("终端异常退出: %v", err)
	}
}

func readConsole(term *terminal.Terminal) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		var err error
		switch strings.ToLower(line) {
		case "":
			err = term.Dismiss()
		case "y", "yes":
			err = term.Confirm()
		default:
			err = term.Submit(line)
		}

		if errors.Is(err, terminal.ErrClosed) {
			return
		}
		if err != nil {
			fmt.Printf("  ! %v\n", err)
		}
	}
	term.Close()
}

func printOutcome(o terminal.Outcome) {
	fmt.Printf("[%s] %s\n", strings.ToUpper(string(o.Kind)), o.Message)
	if o.Result != nil && o.Result.RequestedCount > 1 {
		for _, id := range o.Result.RedeemedIDs {
			fmt.Printf("    ✓ %s\n", id)
		}
	}
}
