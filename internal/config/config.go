// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 存储后端
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config 存储应用配置
type Config struct {
	// 基础配置
	Port      string
	DataDir   string
	LogDir    string
	LogLevel  string
	DebugMode bool

	// 存储
	StoreDriver string
	DatabaseDSN string
	SeedFile    string

	// 核销
	VoucherMaxAge   time.Duration // 0 disables expiry
	VerifyTimeout   time.Duration
	ResumeCooldown  time.Duration
	RedeemRateLimit int // requests per minute per client, 0 disables

	// 鉴权
	AuthSecretKey string
	AuthTokenTTL  time.Duration

	// 终端
	ServerURL     string
	OperatorToken string
	ScannerDevice string
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		DataDir:   getEnv("DATA_DIR", "data"),
		LogDir:    getEnv("LOG_DIR", "logs"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		DebugMode: getEnvBool("DEBUG_MODE", false),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreFile)),
		DatabaseDSN: getEnv("DATABASE_DSN", ""),
		SeedFile:    getEnv("SEED_FILE", ""),

		VoucherMaxAge:   getEnvDuration("VOUCHER_MAX_AGE", 72*time.Hour),
		VerifyTimeout:   getEnvDuration("VERIFY_TIMEOUT", 10*time.Second),
		ResumeCooldown:  getEnvDuration("RESUME_COOLDOWN", 3*time.Second),
		RedeemRateLimit: getEnvInt("REDEEM_RATE_LIMIT", 60),

		AuthSecretKey: getEnv("AUTH_SECRET_KEY", ""),
		AuthTokenTTL:  getEnvDuration("AUTH_TOKEN_TTL", 12*time.Hour),

		ServerURL:     getEnv("SERVER_URL", "http://localhost:8080"),
		OperatorToken: getEnv("OPERATOR_TOKEN", ""),
		ScannerDevice: getEnv("SCANNER_DEVICE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.AuthSecretKey == "" {
		// 只记录警告，不返回错误
		log.Println("警告: 未设置AUTH_SECRET_KEY，核销接口将拒绝所有请求")
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail late at wiring time
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory, StoreFile, StoreSQLite:
	case StorePostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("STORE_DRIVER=postgres requires DATABASE_DSN")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.VoucherMaxAge < 0 {
		return fmt.Errorf("VOUCHER_MAX_AGE must not be negative")
	}
	if c.VerifyTimeout <= 0 {
		return fmt.Errorf("VERIFY_TIMEOUT must be positive")
	}
	if c.ResumeCooldown < 0 {
		return fmt.Errorf("RESUME_COOLDOWN must not be negative")
	}
	return nil
}

// EnsureDirs creates DATA_DIR and LOG_DIR
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.LogDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt 获取整数环境变量，无法解析时返回默认值
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("警告: %s=%q 不是整数，使用默认值 %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// getEnvDuration accepts Go durations ("90s", "72h") or a bare number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("警告: %s=%q 不是有效时长，使用默认值 %s", key, value, defaultValue)
	return defaultValue
}
