package di

import (
	"go.uber.org/dig"

	"github.com/aihub/vector-index-go/internal/auth"
	"github.com/aihub/vector-index-go/internal/bus"
	"github.com/aihub/vector-index-go/internal/config"
	"github.com/aihub/vector-index-go/internal/embedding"
	"github.com/aihub/vector-index-go/internal/padlen"
	"github.com/aihub/vector-index-go/internal/search"
	"github.com/aihub/vector-index-go/internal/service"
	"github.com/aihub/vector-index-go/internal/strategy"
	"github.com/aihub/vector-index-go/internal/tokenizer"
)

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container) error {
	providers := []interface{}{
		// 配置：入口已加载则复用，避免重复读取
		func() (*config.Config, error) {
			if cfg := config.GetAppConfig(); cfg != nil {
				return cfg, nil
			}
			return config.LoadConfig()
		},

		// 分词器与向量化
		func(cfg *config.Config) (*tokenizer.Tokenizer, error) {
			return tokenizer.NewTokenizer(cfg.Embedding.ModelDir)
		},
		func(cfg *config.Config, tk *tokenizer.Tokenizer) (embedding.Provider, error) {
			return embedding.NewProvider(cfg, tk)
		},

		// 填充长度登记表
		func(cfg *config.Config) *padlen.Registry {
			return padlen.NewRegistry(cfg.DataDir)
		},

		// 引擎客户端
		search.NewClient,
		func(c *search.Client) service.Engine { return c },

		// 索引策略
		func(cfg *config.Config) []strategy.IndexStrategy {
			return strategy.All(strategy.Options{KnnEngine: cfg.OpenSearch.KnnEngine})
		},

		// 编排服务
		func(cfg *config.Config, provider embedding.Provider, tk *tokenizer.Tokenizer,
			registry *padlen.Registry, engine service.Engine, strategies []strategy.IndexStrategy) *service.IndexingService {
			return service.NewIndexingService(cfg, provider, tk, registry, engine, strategies)
		},
		service.NewQueryService,

		// 总线
		bus.NewConsumer,
		bus.NewProducer,
		func(p *bus.Producer) bus.Publisher { return p },
		func(cfg *config.Config) *auth.Checker {
			return auth.NewChecker(cfg.Auth.EncryptKey)
		},
		func(cfg *config.Config, indexing *service.IndexingService, querying *service.QueryService,
			producer bus.Publisher, checker *auth.Checker) *bus.Adapter {
			return bus.NewAdapter(cfg, indexing, querying, producer, checker)
		},
	}

	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return err
		}
	}
	return nil
}
