// Command taskpilot-token issues an access token for the TaskPilot API using
// the JWT secret from the daemon configuration.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"TaskPilot/internal/auth"
	"TaskPilot/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("TASKPILOT_CONFIG"), "配置文件路径")
	userFlag := flag.String("user", "", "用户 UUID，留空时生成新的 UUID")
	name := flag.String("name", "", "写入令牌的用户名")
	ttl := flag.Duration("ttl", 24*time.Hour, "令牌有效期，0 表示不过期")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	userID := uuid.New()
	if *userFlag != "" {
		if userID, err = uuid.Parse(*userFlag); err != nil {
			log.Fatalf("user 不是合法的 UUID: %v", err)
		}
	}

	svc, err := auth.NewService(auth.Config{
		Mode:   auth.ModeJWT,
		Secret: cfg.Auth.ResolveSecret(),
		Issuer: cfg.Auth.Issuer,
	})
	if err != nil {
		log.Fatalf("初始化认证服务失败: %v", err)
	}
	token, err := svc.IssueToken(userID, *name, *ttl)
	if err != nil {
		log.Fatalf("签发令牌失败: %v", err)
	}
	fmt.Fprintf(os.Stderr, "user_id=%s\n", userID)
	fmt.Println(token)
}
