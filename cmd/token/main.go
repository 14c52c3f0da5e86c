// cmd/token/main.go
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/Corphon/PickupDesk/internal/app"
	"github.com/Corphon/PickupDesk/internal/auth"
	"github.com/Corphon/PickupDesk/internal/config"
)

// token mints an operator JWT signed with AUTH_SECRET_KEY
func main() {
	operator := flag.String("operator", "", "operator id to embed in the token")
	genKey := flag.Bool("gen-secret", false, "print a fresh AUTH_SECRET_KEY and exit")
	flag.Parse()

	if *genKey {
		key, err := auth.GenerateSecureKey(32)
		if err != nil {
			log.Fatalf("生成密钥失败: %v", err)
		}
		fmt.Println(key)
		return
	}

	if *operator == "" {
		fmt.Fprintln(os.Stderr, "usage: token -operator <id>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	token, err := auth.GenerateToken(*operator, app.TokenConfig(cfg))
	if err != nil {
		log.Fatalf("生成令牌失败: %v", err)
	}
	fmt.Println(token)
}
