package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketpay/internal/config"
	"marketpay/internal/handler"
	"marketpay/internal/infrastructure/cache"
	"marketpay/internal/infrastructure/database"
	"marketpay/internal/infrastructure/lock"
	"marketpay/internal/infrastructure/mq"
	"marketpay/internal/job"
	"marketpay/internal/logger"
	"marketpay/internal/repository"
	"marketpay/internal/repository/memory"
	"marketpay/internal/service"
	"marketpay/pkg/idgen"

	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	workerID := flag.Int64("worker-id", 1, "ID 生成器 workerID，多实例部署时需不同")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Debug)

	// 初始化 ID 生成器
	if err := idgen.Init(*workerID); err != nil {
		log.Fatal().Err(err).Msg("初始化ID生成器失败")
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := initStore(cfg, log)
	locker := initLocker(ctx, cfg, log)
	publisher := initPublisher(cfg, log)
	defer publisher.Close()

	ledger := service.NewLedgerService(store, cfg.Business.Currency, logger.Component(log, "LedgerService"))
	accounts := service.NewAccountService(store, cfg.Business.Currency, logger.Component(log, "AccountService"))
	payments := service.NewPaymentService(store, &cfg.Business, logger.Component(log, "PaymentService"))
	approvals := service.NewApprovalService(store, ledger, locker, &cfg.Kafka, logger.Component(log, "ApprovalService"))
	commission := service.NewCommissionService(store, payments, ledger, locker, cfg, logger.Component(log, "CommissionService"))
	refunds := service.NewRefundService(ledger, &cfg.Kafka, logger.Component(log, "RefundService"))
	orders := service.NewOrderService(store, accounts, commission, refunds, locker, logger.Component(log, "OrderService"))

	if err := accounts.EnsurePlatformAccount(ctx, cfg.Business.PlatformAccountID); err != nil {
		log.Fatal().Err(err).Msg("初始化平台账户失败")
	}

	// 启动后台任务
	outboxSender := job.NewOutboxSender(store.Outbox(), publisher, cfg.Business.MaxRetryCount, logger.Component(log, "OutboxSender"))
	go outboxSender.Start(ctx)

	depositTTL := time.Duration(cfg.Business.PendingDepositTTLHours) * time.Hour
	if depositTTL > 0 {
		expiryJob := job.NewDepositExpiryJob(approvals, depositTTL, logger.Component(log, "DepositExpiryJob"))
		go expiryJob.Start(ctx)
	}

	reconcileInterval := time.Duration(cfg.Business.ReconcileIntervalSeconds) * time.Second
	if reconcileInterval > 0 {
		reconcileJob := job.NewReconcileJob(store.Accounts(), ledger, reconcileInterval, logger.Component(log, "ReconcileJob"))
		go reconcileJob.Start(ctx)
	}

	// 设置路由
	h := handler.NewHandler(handler.Services{
		Account:    accounts,
		Ledger:     ledger,
		Payment:    payments,
		Approval:   approvals,
		Commission: commission,
		Order:      orders,
	}, cfg.Server.Debug, logger.Component(log, "Handler"))
	router := handler.SetupRouter(h, &cfg.Server, logger.Component(log, "HTTP"))

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("driver", cfg.Database.Driver).Msg("服务启动")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("服务启动失败")
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("服务关闭异常")
	}

	log.Info().Msg("服务已关闭")
}

// initStore memory 驱动只用于本地开发，重启后数据丢失
func initStore(cfg *config.Config, log zerolog.Logger) repository.Store {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn().Msg("使用内存存储，数据不会持久化")
		return memory.NewStore()
	}

	db, err := database.InitMySQL(&cfg.Database.MySQL, cfg.Server.Debug)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化 MySQL 失败")
	}
	log.Info().Str("host", cfg.Database.MySQL.Host).Msg("MySQL 连接成功")
	return repository.NewGormStore(db)
}

// initLocker 未配置 Redis 时退化为进程内锁，只适合单实例
func initLocker(ctx context.Context, cfg *config.Config, log zerolog.Logger) lock.Locker {
	if !cfg.Redis.Enabled() {
		log.Warn().Msg("未配置 Redis，使用进程内锁")
		return lock.NewLocalLocker()
	}

	client, err := cache.InitRedis(ctx, &cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化 Redis 失败")
	}
	log.Info().Str("host", cfg.Redis.Host).Msg("Redis 连接成功")
	return lock.NewRedisLocker(client, 10*time.Second, logger.Component(log, "RedisLocker"))
}

// initPublisher 未配置 Kafka 时事件只写日志
func initPublisher(cfg *config.Config, log zerolog.Logger) mq.Publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Warn().Msg("未配置 Kafka，事件只记录日志")
		return mq.NewLogPublisher(logger.Component(log, "LogPublisher"))
	}

	producer, err := mq.NewSyncProducer(&cfg.Kafka)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化 Kafka 生产者失败")
	}
	log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Kafka 连接成功")
	return mq.NewKafkaPublisher(producer, logger.Component(log, "KafkaPublisher"))
}
