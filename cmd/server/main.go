package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"section-swap/backend/config"
	"section-swap/backend/internal/api/handler"
	"section-swap/backend/internal/api/middleware"
	"section-swap/backend/internal/api/router"
	"section-swap/backend/internal/repository"
	"section-swap/backend/internal/service"
	"section-swap/backend/pkg/database"
	"section-swap/backend/pkg/jwt"
	applogger "section-swap/backend/pkg/logger"
	"section-swap/backend/pkg/mailer"
	"section-swap/backend/pkg/redis"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load(os.Getenv("SWAP_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
		zap.String("pair_write_mode", cfg.Swap.PairWriteMode),
		zap.Duration("hold_duration", cfg.Swap.HoldDuration),
	)

	// 3. 连接数据库
	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	logger.Info("数据库连接成功")

	// 3.1 执行数据库迁移
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("获取底层 sql.DB 失败", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}

	// 4. 连接 Redis（可选：连接失败时降级为进程内锁，且不限流）
	var (
		locker  service.RunLocker = service.NewLocalLocker()
		limiter middleware.RateLimiter
	)
	rdb, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis 连接失败，匹配周期锁降级为进程内锁，限流关闭", zap.Error(err))
		rdb = nil
	} else {
		locker = rdb
		limiter = rdb
	}

	// 5. 邮件（可选）
	var mail service.MailSender
	if cfg.Mail.Enabled {
		m, err := mailer.New(&cfg.Mail, logger)
		if err != nil {
			logger.Fatal("初始化邮件客户端失败", zap.Error(err))
		}
		mail = m
	}

	// 6. 初始化 JWT 管理器
	jwtMgr := jwt.NewManager(&cfg.Auth)

	// 7. 依赖注入: Repository → Service → Handler
	repo := repository.NewRepository(db)
	dispatcher := service.NewDispatcher(repo, mail, cfg.Swap.NotifyQueueSize, cfg.Server.BaseURL, logger)
	svc := service.NewService(cfg, repo, dispatcher, locker, logger)

	if err := handler.RegisterValidators(); err != nil {
		logger.Fatal("注册校验规则失败", zap.Error(err))
	}
	h := handler.NewHandler(svc)

	// 8. 定时匹配
	scheduler := service.NewScheduler(svc.Cycle, cfg.Swap.CycleInterval, logger)
	scheduler.Start(context.Background())

	// 9. 初始化路由
	engine := router.Setup(cfg, h, jwtMgr, limiter, logger)

	// 10. 启动 HTTP 服务器（优雅关闭）
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 11. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	// 先停定时任务，再排空通知队列
	scheduler.Stop()
	dispatcher.Close()

	// 关闭数据库连接
	if sqlDB != nil {
		sqlDB.Close()
	}

	// 关闭 Redis 连接
	if rdb != nil {
		rdb.Close()
	}

	logger.Info("服务器已关闭")
}
