package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RateLimit 描述单个动作的限速窗口：窗口内最多 Cap 次，超限后封禁 Block。
type RateLimit struct {
	Window time.Duration
	Cap    int
	Block  time.Duration
}

type Config struct {
	Port              string
	Env               string
	LogLevel          string
	DatabaseDSN       string
	ReportLogPath     string
	UploadDir         string
	MaxUploadBytes    int64
	ThreadTTL         time.Duration
	PurgeInterval     time.Duration
	NameReservation   time.Duration
	NameSweepInterval time.Duration
	ReactionEmojis    []string
	TrustedProxies    []string
	RateLimits        map[string]RateLimit
}

// 限速动作名，与 mw.Action 的取值一致。
var rateActions = []string{"create-thread", "add-reply", "add-reaction", "submit-report", "chat-message"}

var rateDefaults = map[string]RateLimit{
	"create-thread": {Window: time.Minute, Cap: 5, Block: time.Minute},
	"add-reply":     {Window: time.Minute, Cap: 20, Block: 30 * time.Second},
	"add-reaction":  {Window: time.Minute, Cap: 60, Block: 10 * time.Second},
	"submit-report": {Window: 10 * time.Minute, Cap: 5, Block: 10 * time.Minute},
	"chat-message":  {Window: time.Minute, Cap: 30, Block: 30 * time.Second},
}

// rateKey 把 "create-thread" 映射为 RATE_CREATE_THREAD。
func rateKey(action string) string {
	return "RATE_" + strings.ToUpper(strings.ReplaceAll(action, "-", "_"))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_DSN", "")
	v.SetDefault("REPORT_LOG", "./data/reports.jsonl")
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("MAX_UPLOAD_BYTES", 5<<20)
	v.SetDefault("THREAD_TTL", time.Hour)
	v.SetDefault("PURGE_INTERVAL", time.Minute)
	v.SetDefault("NAME_RESERVATION", 12*time.Hour)
	v.SetDefault("NAME_SWEEP_INTERVAL", 10*time.Minute)
	v.SetDefault("REACTION_EMOJIS", "👍,❤️,😂,😮,🔥")
	// 默认不信任任何代理，客户端 IP 取自连接地址
	v.SetDefault("TRUSTED_PROXIES", "")
	for _, a := range rateActions {
		d := rateDefaults[a]
		k := rateKey(a)
		v.SetDefault(k+"_CAP", d.Cap)
		v.SetDefault(k+"_WINDOW", d.Window)
		v.SetDefault(k+"_BLOCK", d.Block)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Load() Config {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	limits := make(map[string]RateLimit, len(rateActions))
	for _, a := range rateActions {
		k := rateKey(a)
		limits[a] = RateLimit{
			Cap:    v.GetInt(k + "_CAP"),
			Window: v.GetDuration(k + "_WINDOW"),
			Block:  v.GetDuration(k + "_BLOCK"),
		}
	}
	return Config{
		Port:              v.GetString("APP_PORT"),
		Env:               v.GetString("APP_ENV"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		DatabaseDSN:       v.GetString("DATABASE_DSN"),
		ReportLogPath:     v.GetString("REPORT_LOG"),
		UploadDir:         v.GetString("UPLOAD_DIR"),
		MaxUploadBytes:    v.GetInt64("MAX_UPLOAD_BYTES"),
		ThreadTTL:         v.GetDuration("THREAD_TTL"),
		PurgeInterval:     v.GetDuration("PURGE_INTERVAL"),
		NameReservation:   v.GetDuration("NAME_RESERVATION"),
		NameSweepInterval: v.GetDuration("NAME_SWEEP_INTERVAL"),
		ReactionEmojis:    splitList(v.GetString("REACTION_EMOJIS")),
		TrustedProxies:    splitList(v.GetString("TRUSTED_PROXIES")),
		RateLimits:        limits,
	}
}

// Validate 在启动前检查配置，避免带着无效参数运行。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.UploadDir == "" {
		return errors.New("UPLOAD_DIR is required")
	}
	if cfg.DatabaseDSN == "" && cfg.ReportLogPath == "" {
		return errors.New("either DATABASE_DSN or REPORT_LOG is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.ThreadTTL <= 0 {
		return errors.New("THREAD_TTL must be positive")
	}
	if cfg.PurgeInterval <= 0 {
		return errors.New("PURGE_INTERVAL must be positive")
	}
	if cfg.NameReservation <= 0 || cfg.NameSweepInterval <= 0 {
		return errors.New("name reservation and sweep interval must be positive")
	}
	if len(cfg.ReactionEmojis) == 0 {
		return errors.New("REACTION_EMOJIS must not be empty")
	}
	for _, p := range cfg.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("invalid trusted proxy %q", p)
			}
		}
	}
	for action, rl := range cfg.RateLimits {
		if rl.Cap <= 0 || rl.Window <= 0 || rl.Block < 0 {
			return fmt.Errorf("invalid rate limit for %s", action)
		}
	}
	return nil
}
