package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nemonet1337/zaiWarehouse/internal/app"
	"github.com/nemonet1337/zaiWarehouse/internal/config"
	"github.com/nemonet1337/zaiWarehouse/internal/logging"
	"github.com/nemonet1337/zaiWarehouse/pkg/jobs"
)

func main() {
	configPath := flag.String("config", "", "設定ファイルのパス")
	flag.Parse()

	// 設定読み込み
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("設定読み込みに失敗しました:", err)
	}
	if cfg.Queue.Driver != "asynq" {
		log.Fatal("ワーカーはqueue.driver=asynqでのみ起動できます")
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("アプリケーション初期化に失敗しました", zap.Error(err))
	}
	defer a.Close()

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   a.RedisOpts(),
		Logger:      logger,
		Concurrency: cfg.Queue.Concurrency,
		Handlers:    a.TaskHandlers(),
		Cron:        a.Cron(),
	})
	if err != nil {
		logger.Fatal("ワーカー初期化に失敗しました", zap.Error(err))
	}

	logger.Info("ワーカーを開始します",
		zap.Int("concurrency", cfg.Queue.Concurrency),
		zap.String("sweep_cron", cfg.Queue.SweepCron),
	)
	if err := worker.Run(ctx); err != nil {
		logger.Fatal("ワーカーが異常終了しました", zap.Error(err))
	}
	logger.Info("ワーカーが正常に停止しました")
}
