package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"supa_discord/internal/config"
	myredis "supa_discord/internal/dao/redis"
	"supa_discord/internal/handler"
	"supa_discord/internal/https_server"
	"supa_discord/internal/infrastructure/logger"
	"supa_discord/internal/service/chat"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	conf, err := config.Load(config.DefaultPaths...)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// 2. 初始化日志
	lg, err := logger.Init(&conf.LogConfig, conf.MainConfig.Mode)
	if err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer func() { _ = lg.Sync() }()
	lg.Info("日志初始化成功")

	// 3. 参数校验提示使用中文
	if err := handler.InitTrans("zh"); err != nil {
		lg.Fatal("init validator translator failed", zap.Error(err))
	}

	// 4. 组装 HTTP 引擎；缺少后端配置时只提供配置错误页面
	ctx := context.Background()
	var (
		engine *gin.Engine
		views  *chat.Manager
		cache  myredis.CacheService
	)
	if cfgErr := conf.SupabaseConfig.Validate(); cfgErr != nil {
		lg.Error("backend configuration missing, serving configuration error page", zap.Error(cfgErr))
		engine, err = https_server.NewConfigError(conf, cfgErr, lg)
	} else {
		// 4.1 会话缓存（memory 或 redis）
		cache, err = myredis.New(ctx, conf, lg)
		if err != nil {
			lg.Fatal("init session cache failed", zap.Error(err))
		}
		// 4.2 视图管理器，每个浏览器一个视图
		views = chat.NewManager(chat.NewViewFactory(conf, cache, lg), conf.SessionConfig.IdleTimeout, lg)
		// 4.3 Handler 和路由
		engine, err = https_server.New(conf, handler.NewHandlers(conf.MainConfig.AppName, views, lg), lg)
	}
	if err != nil {
		lg.Fatal("init http server failed", zap.Error(err))
	}

	// 5. 启动服务
	srv := &http.Server{
		Addr:              conf.MainConfig.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		lg.Info("服务启动", zap.String("addr", srv.Addr), zap.String("site", conf.MainConfig.CallbackURL()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server running fault", zap.Error(err))
		}
	}()

	// 设置信号监听
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.Info("关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	// 先关闭视图，websocket 长连接随之结束
	if views != nil {
		views.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("server shutdown", zap.Error(err))
	}
	if cache != nil {
		if err := cache.Close(); err != nil {
			lg.Warn("close session cache", zap.Error(err))
		}
	}
	lg.Info("服务器已关闭")
}
