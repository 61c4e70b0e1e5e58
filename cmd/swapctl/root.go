package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"section-swap/backend/config"
	"section-swap/backend/internal/repository"
	"section-swap/backend/internal/service"
	"section-swap/backend/pkg/database"
	applogger "section-swap/backend/pkg/logger"
	"section-swap/backend/pkg/mailer"
	"section-swap/backend/pkg/redis"
)

type contextKey string

const appKey contextKey = "app"

// app 命令行共享的依赖
type app struct {
	closed bool

	cfg        *config.Config
	logger     *zap.Logger
	db         *gorm.DB
	rdb        *redis.Client
	dispatcher *service.Dispatcher
	svc        *service.Service
}

func (a *app) close() {
	if a.closed {
		return
	}
	a.closed = true
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	a.logger.Sync()
}

// appHolder 在 Execute 与子命令之间传递 app，RunE 出错时 cobra 不执行 PostRun
type appHolder struct {
	app *app
}

// bootstrapApp 装配依赖，测试中可替换
var bootstrapApp = bootstrap

var rootCmd = &cobra.Command{
	Use:   "swapctl",
	Short: "换班匹配引擎运维命令",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		holder, ok := cmd.Context().Value(appKey).(*appHolder)
		if !ok {
			return fmt.Errorf("命令上下文缺少依赖容器")
		}
		path, _ := cmd.Flags().GetString("config")
		a, err := bootstrapApp(path)
		if err != nil {
			return err
		}
		holder.app = a
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "配置文件路径（默认 ./config/config.yaml）")
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
}

// bootstrap 按与服务端相同的顺序装配依赖，但不启动 HTTP 与定时任务
func bootstrap(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, db: db}

	var locker service.RunLocker = service.NewLocalLocker()
	if rdb, err := redis.NewClient(&cfg.Redis, logger); err != nil {
		logger.Warn("Redis 连接失败，使用进程内锁", zap.Error(err))
	} else {
		a.rdb = rdb
		locker = rdb
	}

	var mail service.MailSender
	if cfg.Mail.Enabled {
		m, err := mailer.New(&cfg.Mail, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("初始化邮件客户端失败: %w", err)
		}
		mail = m
	}

	repo := repository.NewRepository(db)
	a.dispatcher = service.NewDispatcher(repo, mail, cfg.Swap.NotifyQueueSize, cfg.Server.BaseURL, logger)
	a.svc = service.NewService(cfg, repo, a.dispatcher, locker, logger)
	return a, nil
}

func getApp(cmd *cobra.Command) *app {
	holder, _ := cmd.Context().Value(appKey).(*appHolder)
	if holder == nil {
		return nil
	}
	return holder.app
}

// Execute 执行根命令并返回退出码；无论命令成败都会关闭依赖，排空通知队列
func Execute() int {
	holder := &appHolder{}
	err := rootCmd.ExecuteContext(context.WithValue(context.Background(), appKey, holder))
	if holder.app != nil {
		if err != nil {
			holder.app.logger.Error("命令执行失败", zap.Error(err))
		}
		holder.app.close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		return 1
	}
	return 0
}
