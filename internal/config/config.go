// Package config 提供应用程序的配置加载
// 使用 TOML 格式的配置文件，支持多路径查找，环境变量可覆盖文件中的值
package config

import (
	"fmt"
	"strings"
	"time"

	"supa_discord/pkg/errorx"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// MainConfig 主配置，包含应用基本信息
type MainConfig struct {
	AppName string `toml:"appName"`
	Host    string `toml:"host" env:"SUPA_DISCORD_HOST"`
	Port    int    `toml:"port" env:"SUPA_DISCORD_PORT"`
	// SiteURL 浏览器访问本服务的外部地址，登录邮件中的链接会跳回 SiteURL/auth/callback
	SiteURL string `toml:"siteURL" env:"SUPA_DISCORD_SITE_URL"`
	Mode    string `toml:"mode" env:"SUPA_DISCORD_MODE"` // dev 或 release
}

// SupabaseConfig 后端服务配置
type SupabaseConfig struct {
	URL     string `toml:"url" env:"SUPABASE_URL"`
	AnonKey string `toml:"anonKey" env:"SUPABASE_ANON_KEY"`
	// 兼容前端构建时使用的变量名
	ViteURL     string `toml:"-" env:"VITE_SUPABASE_URL"`
	ViteAnonKey string `toml:"-" env:"VITE_SUPABASE_ANON_KEY"`

	Schema         string        `toml:"schema"`
	RequestTimeout time.Duration `toml:"requestTimeout"`
}

// LogConfig 日志配置，使用 lumberjack 进行日志轮转
type LogConfig struct {
	LogPath    string `toml:"logPath"`
	FileName   string `toml:"fileName"`
	MaxSize    int    `toml:"maxSize"`    // 单个日志文件最大大小（MB）
	MaxBackups int    `toml:"maxBackups"` // 保留旧日志文件的最大个数
	MaxAge     int    `toml:"maxAge"`     // 保留旧日志文件的最大天数
	Level      string `toml:"level" env:"SUPA_DISCORD_LOG_LEVEL"`
}

// SessionConfig 会话缓存配置
type SessionConfig struct {
	Store        string        `toml:"store" env:"SUPA_DISCORD_SESSION_STORE"` // memory 或 redis
	TTL          time.Duration `toml:"ttl"`
	IdleTimeout  time.Duration `toml:"idleTimeout"` // 无浏览器连接的视图保留时长
	SecureCookie bool          `toml:"secureCookie"`
}

// RedisConfig Redis 连接配置（sessionConfig.store = "redis" 时使用）
type RedisConfig struct {
	Host     string `toml:"host" env:"SUPA_DISCORD_REDIS_HOST"`
	Port     int    `toml:"port" env:"SUPA_DISCORD_REDIS_PORT"`
	Password string `toml:"password" env:"SUPA_DISCORD_REDIS_PASSWORD"`
	Db       int    `toml:"db"`
}

// Config 应用程序总配置，聚合所有子配置
type Config struct {
	MainConfig     `toml:"mainConfig"`
	SupabaseConfig `toml:"supabaseConfig"`
	LogConfig      `toml:"logConfig"`
	SessionConfig  `toml:"sessionConfig"`
	RedisConfig    `toml:"redisConfig"`
}

// DefaultPaths 候选配置文件路径（优先加载本地配置）
var DefaultPaths = []string{
	"configs/config_local.toml",
	"configs/config.toml",
	"../../configs/config_local.toml",
	"../../configs/config.toml",
}

// Default 返回带默认值的配置
func Default() *Config {
	return &Config{
		MainConfig: MainConfig{
			AppName: "supa_discord",
			Host:    "127.0.0.1",
			Port:    8000,
			Mode:    "dev",
		},
		SupabaseConfig: SupabaseConfig{
			Schema:         "public",
			RequestTimeout: 15 * time.Second,
		},
		LogConfig: LogConfig{
			LogPath: "logs",
			Level:   "info",
		},
		SessionConfig: SessionConfig{
			Store:       "memory",
			TTL:         30 * 24 * time.Hour,
			IdleTimeout: 10 * time.Minute,
		},
		RedisConfig: RedisConfig{
			Host: "127.0.0.1",
			Port: 6379,
		},
	}
}

// Load 按顺序尝试 paths 中的配置文件，找到第一个可解析的即停止，再叠加环境变量
// 找不到配置文件不算错误，此时只使用默认值和环境变量
func Load(paths ...string) (*Config, error) {
	conf := Default()
	for _, path := range paths {
		if _, err := toml.DecodeFile(path, conf); err == nil {
			break
		}
	}
	if err := env.Parse(conf); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	conf.SupabaseConfig.applyFallbacks()
	return conf, nil
}

func (c *SupabaseConfig) applyFallbacks() {
	if c.URL == "" {
		c.URL = c.ViteURL
	}
	if c.AnonKey == "" {
		c.AnonKey = c.ViteAnonKey
	}
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")
	c.AnonKey = strings.TrimSpace(c.AnonKey)
}

// Validate 检查后端地址和公开密钥是否齐全
// 返回 errorx.ErrConfigMissing 包装的错误，Msg 中列出缺失的变量
func (c *SupabaseConfig) Validate() error {
	missing := c.Missing()
	if len(missing) == 0 {
		return nil
	}
	return errorx.Wrapf(errorx.ErrConfigMissing, errorx.CodeConfigMissing, "缺少配置: %s", strings.Join(missing, ", "))
}

// Missing 缺失的环境变量名
func (c *SupabaseConfig) Missing() []string {
	var missing []string
	if c.URL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if c.AnonKey == "" {
		missing = append(missing, "SUPABASE_ANON_KEY")
	}
	return missing
}

// Addr 监听地址 host:port
func (c *MainConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CallbackURL 登录邮件中的回跳地址
func (c *MainConfig) CallbackURL() string {
	base := strings.TrimRight(c.SiteURL, "/")
	if base == "" {
		base = "http://" + c.Addr()
	}
	return base + "/auth/callback"
}
