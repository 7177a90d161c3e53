package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/vector-index-go/internal/bus"
	"github.com/aihub/vector-index-go/internal/config"
	"github.com/aihub/vector-index-go/internal/di"
	"github.com/aihub/vector-index-go/internal/embedding"
	"github.com/aihub/vector-index-go/internal/logger"
	"github.com/aihub/vector-index-go/internal/metrics"
	"github.com/aihub/vector-index-go/internal/search"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := logger.InitLogger(cfg); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	container, err := di.BuildContainer()
	if err != nil {
		logger.Fatal("构建依赖容器失败", zap.Error(err))
	}

	err = container.Invoke(func(
		cfg *config.Config,
		provider embedding.Provider,
		client *search.Client,
		consumer *bus.Consumer,
		producer *bus.Producer,
		adapter *bus.Adapter,
	) {
		if cfg.Metrics.Enabled {
			metrics.Serve(cfg.Metrics.Addr)
		}

		// 启动观测：确认引擎与默认索引可达
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if cfg.OpenSearch.DefaultIndex != "" {
			if n, err := client.CountDocs(ctx, cfg.OpenSearch.DefaultIndex); err == nil {
				logger.Info("默认索引可达",
					zap.String("index", cfg.OpenSearch.DefaultIndex),
					zap.Int64("docs", n))
			} else {
				logger.Warn("默认索引不可达", zap.Error(err))
			}
		}
		cancel()

		adapter.Bind(consumer)
		consumer.Start()

		logger.Info("🚀 向量索引服务启动",
			zap.String("provider", cfg.Embedding.Provider),
			zap.Int("dims", cfg.Embedding.VecDim),
			zap.Strings("brokers", cfg.Kafka.Brokers))

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("收到退出信号，开始关停")
		if err := consumer.Close(); err != nil {
			logger.Error("关闭消费者失败", zap.Error(err))
		}
		if err := producer.Close(); err != nil {
			logger.Error("关闭生产者失败", zap.Error(err))
		}
		if err := provider.Close(); err != nil {
			logger.Error("关闭向量化Provider失败", zap.Error(err))
		}
	})
	if err != nil {
		logger.Fatal("服务启动失败", zap.Error(err))
	}
}
