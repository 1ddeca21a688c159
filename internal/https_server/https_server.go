// Package https_server 提供 HTTP 服务器的初始化和配置
// 负责创建 Gin 引擎实例并配置中间件、页面模板和路由
package https_server

import (
	"fmt"
	"strings"

	"supa_discord/internal/config"
	"supa_discord/internal/handler"
	"supa_discord/internal/infrastructure/logger"
	"supa_discord/internal/infrastructure/middleware"
	"supa_discord/internal/router"
	"supa_discord/web"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// New 创建正常模式的 Gin 引擎
// 配置顺序：
//  1. 创建 Gin 引擎（空白，不含默认中间件）
//  2. 注册日志、恢复、CORS 和安全头中间件
//  3. 加载页面模板
//  4. 注册业务路由
func New(conf *config.Config, handlers *handler.Handlers, lg *zap.Logger) (*gin.Engine, error) {
	engine, err := newEngine(conf, lg)
	if err != nil {
		return nil, err
	}
	rt := router.NewRouter(handlers, conf.SessionConfig.SecureCookie)
	rt.RegisterRoutes(engine)
	return engine, nil
}

// NewConfigError 创建缺少后端配置时的 Gin 引擎
// 所有请求都落到配置错误页面，不创建任何后端客户端
func NewConfigError(conf *config.Config, cause error, lg *zap.Logger) (*gin.Engine, error) {
	engine, err := newEngine(conf, lg)
	if err != nil {
		return nil, err
	}
	engine.NoRoute(handler.ConfigErrorHandler(conf.MainConfig.AppName, cause, conf.SupabaseConfig.Missing()))
	return engine, nil
}

func newEngine(conf *config.Config, lg *zap.Logger) (*gin.Engine, error) {
	if conf.MainConfig.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	// Zap 日志中间件替代 Gin 默认日志，Panic 恢复时记录堆栈
	engine.Use(logger.GinLogger(lg))
	engine.Use(logger.GinRecovery(lg, true))

	// 页面和接口同源，只放行站点自身
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{siteOrigin(&conf.MainConfig)}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
	corsConfig.AllowCredentials = true
	engine.Use(cors.New(corsConfig))

	engine.Use(middleware.SecureHeaders(conf.MainConfig.Mode != "release", lg))

	tmpl, err := web.Templates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	engine.SetHTMLTemplate(tmpl)
	return engine, nil
}

// siteOrigin 站点的 scheme://host[:port]
func siteOrigin(c *config.MainConfig) string {
	site := strings.TrimRight(c.SiteURL, "/")
	if site == "" {
		return "http://" + c.Addr()
	}
	if i := strings.Index(site, "://"); i >= 0 {
		if j := strings.Index(site[i+3:], "/"); j >= 0 {
			return site[:i+3+j]
		}
	}
	return site
}
