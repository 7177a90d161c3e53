package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/vector-index-go/internal/config"
	"github.com/aihub/vector-index-go/internal/embedding"
	"github.com/aihub/vector-index-go/internal/logger"
	"github.com/aihub/vector-index-go/internal/metrics"
	"github.com/aihub/vector-index-go/internal/models"
	"github.com/aihub/vector-index-go/internal/padlen"
	"github.com/aihub/vector-index-go/internal/search"
	"github.com/aihub/vector-index-go/internal/strategy"
)

// 单字段与多字段检索的每字段返回条数
const defaultK = 3

// QueryService 检索编排
// 结果缓存仅存活于进程内，命中时不访问引擎
type QueryService struct {
	cfg        *config.Config
	provider   embedding.Provider
	registry   *padlen.Registry
	engine     Engine
	strategies []strategy.IndexStrategy
	cache      sync.Map
}

// NewQueryService 创建检索编排服务
func NewQueryService(
	cfg *config.Config,
	provider embedding.Provider,
	registry *padlen.Registry,
	engine Engine,
	strategies []strategy.IndexStrategy,
) *QueryService {
	return &QueryService{
		cfg:        cfg,
		provider:   provider,
		registry:   registry,
		engine:     engine,
		strategies: strategies,
	}
}

func cacheKey(indexName, queryText string) string {
	return indexName + "\x00" + queryText
}

// Query 处理检索请求
func (s *QueryService) Query(ctx context.Context, req *models.QueryIndexRequest) *models.QueryIndexResult {
	start := time.Now()
	defer func() {
		metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}()

	if cached, ok := s.cache.Load(cacheKey(req.IndexName, req.QueryText)); ok {
		logger.Debug("检索缓存命中",
			zap.String("index", req.IndexName),
			zap.String("query", req.QueryText))
		return &models.QueryIndexResult{
			Success:      true,
			Message:      "ok (cached)",
			QueryResults: cached.([]models.QueryResult),
		}
	}

	strat, ok := strategy.ForIndex(s.strategies, req.IndexName)
	if !ok {
		return queryFail(fmt.Sprintf("未知索引: %s", req.IndexName))
	}

	// 查询向量必须与存量向量在同一空间：优先使用登记的填充长度
	padTo := s.cfg.Embedding.MinTokenLengthCap
	if rec, found := s.registry.Get(req.IndexName); found {
		padTo = rec.PadToTokens
	}

	vec, err := s.provider.Embed(ctx, req.QueryText, padTo, false)
	if err != nil {
		return queryFail(fmt.Sprintf("查询向量化失败: %v", err))
	}
	if len(vec) == 0 {
		return queryFail("查询向量化返回空向量")
	}

	hits, err := s.dispatch(ctx, strat, req, vec)
	if err != nil {
		return queryFail(err.Error())
	}

	results := make([]models.QueryResult, 0, len(hits))
	for _, hit := range hits {
		input, _ := hit.Source["input"].(string)
		output, _ := hit.Source["output"].(string)
		results = append(results, models.QueryResult{Input: input, Output: output})
	}

	s.cache.Store(cacheKey(req.IndexName, req.QueryText), results)
	return &models.QueryIndexResult{Success: true, Message: "ok", QueryResults: results}
}

// dispatch 指定模式走单字段检索，否则走多字段加权检索
func (s *QueryService) dispatch(
	ctx context.Context,
	strat strategy.IndexStrategy,
	req *models.QueryIndexRequest,
	vec []float32,
) ([]search.Hit, error) {
	if req.VectorSearchMode != "" {
		field := strat.VectorField(req.VectorSearchMode)
		return s.engine.KnnSearch(ctx, req.IndexName, field, vec, defaultK)
	}

	weights := strat.DefaultFieldWeights()
	if len(req.FieldWeights) > 0 {
		weights = req.FieldWeights
	}
	return s.engine.MultiFieldKnnSearch(ctx, req.IndexName, weights, vec, defaultK)
}

func queryFail(message string) *models.QueryIndexResult {
	logger.Warn("检索请求失败", zap.String("reason", message))
	return &models.QueryIndexResult{Success: false, Message: message, QueryResults: []models.QueryResult{}}
}
