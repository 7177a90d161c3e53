package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/vector-index-go/internal/config"
	"github.com/aihub/vector-index-go/internal/embedding"
	apperrors "github.com/aihub/vector-index-go/internal/errors"
	"github.com/aihub/vector-index-go/internal/logger"
	"github.com/aihub/vector-index-go/internal/metrics"
	"github.com/aihub/vector-index-go/internal/models"
	"github.com/aihub/vector-index-go/internal/padlen"
	"github.com/aihub/vector-index-go/internal/search"
	"github.com/aihub/vector-index-go/internal/strategy"
)

const padConfigDir = "index_config"

// Engine 索引路径所需的引擎能力
type Engine interface {
	Exists(ctx context.Context, index string) (bool, error)
	CreateIndex(ctx context.Context, index string, mapping map[string]interface{}) error
	DeleteIndex(ctx context.Context, index string) error
	ExistsDoc(ctx context.Context, index, id string) (bool, error)
	IndexDoc(ctx context.Context, index, id string, body map[string]interface{}) error
	KnnSearch(ctx context.Context, index, vectorField string, vector []float32, k int) ([]search.Hit, error)
	MultiFieldKnnSearch(ctx context.Context, index string, weights map[string]float64, vector []float32, kPerField int) ([]search.Hit, error)
	SnapshotCreate(ctx context.Context, repo, name string, indices []string) error
	SnapshotRestore(ctx context.Context, repo, name string, indices []string) error
}

// IndexingService 端到端索引编排
type IndexingService struct {
	cfg        *config.Config
	provider   embedding.Provider
	counter    strategy.TokenCounter
	registry   *padlen.Registry
	engine     Engine
	strategies []strategy.IndexStrategy
}

// NewIndexingService 创建索引编排服务
func NewIndexingService(
	cfg *config.Config,
	provider embedding.Provider,
	counter strategy.TokenCounter,
	registry *padlen.Registry,
	engine Engine,
	strategies []strategy.IndexStrategy,
) *IndexingService {
	return &IndexingService{
		cfg:        cfg,
		provider:   provider,
		counter:    counter,
		registry:   registry,
		engine:     engine,
		strategies: strategies,
	}
}

// CreateIndex 处理建索引请求
func (s *IndexingService) CreateIndex(ctx context.Context, req *models.CreateIndexRequest) *models.ResultObj {
	if req.CreateFromJSONDataDir {
		return s.bulkIndex(ctx, req.RecreateIndex)
	}
	return s.indexSingleFile(ctx, req)
}

// bulkIndex 扫描数据目录，逐索引批量写入
// 目录布局为 {dataDir}/{indexName}/*.json
func (s *IndexingService) bulkIndex(ctx context.Context, recreate bool) *models.ResultObj {
	entries, err := os.ReadDir(s.cfg.DataDir)
	if err != nil {
		return models.Fail(fmt.Sprintf("读取数据目录失败: %v", err))
	}

	var failures []string
	indexed := 0

	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == padConfigDir {
			continue
		}
		indexName := entry.Name()

		files, err := listJSONFiles(filepath.Join(s.cfg.DataDir, indexName))
		if err != nil || len(files) == 0 {
			continue
		}

		strat, ok := strategy.ForIndex(s.strategies, indexName)
		if !ok {
			logger.Warn("目录无对应索引策略，跳过", zap.String("index", indexName))
			continue
		}

		padTo, err := s.resolvePadLength(strat, files)
		if err != nil {
			return models.Fail(err.Error())
		}

		if err := s.ensureIndex(ctx, strat, recreate); err != nil {
			// 引擎不可用中止本次请求
			return models.Fail(err.Error())
		}

		n, fails := s.indexFiles(ctx, strat, files, padTo)
		indexed += n
		failures = append(failures, fails...)
	}

	if len(failures) > 0 {
		return models.Fail(fmt.Sprintf("索引完成 %d 条，失败 %d 条: %s",
			indexed, len(failures), strings.Join(failures, "; ")))
	}
	return models.Ok(fmt.Sprintf("索引完成 %d 条", indexed))
}

// indexSingleFile 单文件索引，要求填充长度已登记
func (s *IndexingService) indexSingleFile(ctx context.Context, req *models.CreateIndexRequest) *models.ResultObj {
	strat, ok := strategy.ForIndex(s.strategies, req.IndexName)
	if !ok {
		return models.Fail(fmt.Sprintf("未知索引: %s", req.IndexName))
	}
	if req.JsonFile == "" {
		return models.Fail("jsonFile 不能为空")
	}

	rec, ok := s.registry.Get(req.IndexName)
	if !ok {
		err := apperrors.Newf(apperrors.ErrCodePadLengthUnknown,
			"索引 %s 未登记填充长度，请先执行批量索引", req.IndexName)
		return models.Fail(err.Error())
	}

	if err := s.ensureIndexWithMapping(ctx, strat, req.RecreateIndex, req.JsonMapping); err != nil {
		return models.Fail(err.Error())
	}

	_, fails := s.indexFiles(ctx, strat, []string{req.JsonFile}, rec.PadToTokens)
	if len(fails) > 0 {
		return models.Fail(strings.Join(fails, "; "))
	}
	return models.Ok(fmt.Sprintf("文件 %s 索引完成", req.JsonFile))
}

// CreateSnapshot 快照透传
func (s *IndexingService) CreateSnapshot(ctx context.Context, req *models.CreateSnapshotRequest) *models.ResultObj {
	if err := s.engine.SnapshotCreate(ctx, req.SnapshotRepo, req.SnapshotName, req.Indices); err != nil {
		return models.Fail(err.Error())
	}
	return models.Ok(fmt.Sprintf("快照 %s/%s 已创建", req.SnapshotRepo, req.SnapshotName))
}

// RestoreSnapshot 快照恢复透传
func (s *IndexingService) RestoreSnapshot(ctx context.Context, req *models.CreateSnapshotRequest) *models.ResultObj {
	if err := s.engine.SnapshotRestore(ctx, req.SnapshotRepo, req.SnapshotName, req.Indices); err != nil {
		return models.Fail(err.Error())
	}
	return models.Ok(fmt.Sprintf("快照 %s/%s 已恢复", req.SnapshotRepo, req.SnapshotName))
}

// resolvePadLength 登记表优先，缺失时扫描语料估算并落盘
func (s *IndexingService) resolvePadLength(strat strategy.IndexStrategy, files []string) (int, error) {
	if rec, ok := s.registry.Get(strat.IndexName()); ok {
		return rec.PadToTokens, nil
	}

	ecfg := s.cfg.Embedding
	pad, observed, err := strat.EstimatePadding(files, s.counter, ecfg.MaxTokenLengthCap, ecfg.MinTokenLengthCap)
	if err != nil {
		return 0, fmt.Errorf("估算填充长度失败: %w", err)
	}

	if err := s.registry.Put(strat.IndexName(), padlen.Record{
		PadToTokens:     pad,
		ActualMaxTokens: observed,
	}); err != nil {
		return 0, err
	}
	return pad, nil
}

func (s *IndexingService) ensureIndex(ctx context.Context, strat strategy.IndexStrategy, recreate bool) error {
	return s.ensureIndexWithMapping(ctx, strat, recreate, "")
}

// ensureIndexWithMapping 保证索引存在
// recreate 为真时先删后建；inlineMapping 非空时覆盖策略生成的映射
func (s *IndexingService) ensureIndexWithMapping(ctx context.Context, strat strategy.IndexStrategy, recreate bool, inlineMapping string) error {
	index := strat.IndexName()

	mapping := strat.EngineMapping(s.cfg.Embedding.VecDim)
	if inlineMapping != "" {
		var custom map[string]interface{}
		if err := json.Unmarshal([]byte(inlineMapping), &custom); err != nil {
			return apperrors.New(apperrors.ErrCodeInvalidRequest, "jsonMapping 不是合法JSON").WithCause(err)
		}
		mapping = custom
	}

	if recreate {
		if err := s.engine.DeleteIndex(ctx, index); err != nil {
			return err
		}
		return s.engine.CreateIndex(ctx, index, mapping)
	}

	exists, err := s.engine.Exists(ctx, index)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.engine.CreateIndex(ctx, index, mapping)
}

// indexFiles 逐文件逐条目写入，单条失败不中断
func (s *IndexingService) indexFiles(ctx context.Context, strat strategy.IndexStrategy, files []string, padTo int) (int, []string) {
	index := strat.IndexName()
	indexed := 0
	var failures []string

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			failures = append(failures, fmt.Sprintf("读取 %s 失败: %v", file, err))
			continue
		}

		for _, item := range strat.Deserialize(data) {
			id, err := s.indexItem(ctx, strat, item, padTo)
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", id, err))
				metrics.DocsSkipped.WithLabelValues(index, "error").Inc()
				continue
			}
			if id == "" {
				// 已存在，幂等跳过
				metrics.DocsSkipped.WithLabelValues(index, "exists").Inc()
				continue
			}
			indexed++
			metrics.DocsIndexed.WithLabelValues(index).Inc()
		}
	}

	logger.Info("索引写入完成",
		zap.String("index", index),
		zap.Int("indexed", indexed),
		zap.Int("failed", len(failures)))
	return indexed, failures
}

// indexItem 单条写入，返回写入的文档id，已存在返回空串
func (s *IndexingService) indexItem(ctx context.Context, strat strategy.IndexStrategy, item interface{}, padTo int) (string, error) {
	start := time.Now()
	if err := strat.EnsureEmbeddings(ctx, item, s.provider, padTo); err != nil {
		return strat.ComputeID(item), err
	}
	metrics.EmbedDuration.Observe(time.Since(start).Seconds())

	id := strat.ComputeID(item)
	exists, err := s.engine.ExistsDoc(ctx, strat.IndexName(), id)
	if err != nil {
		return id, err
	}
	if exists {
		return "", nil
	}

	if err := s.engine.IndexDoc(ctx, strat.IndexName(), id, strat.BuildIndexDocument(item)); err != nil {
		return id, err
	}
	return id, nil
}

// listJSONFiles 枚举目录下的JSON文件，按文件名排序保证处理顺序稳定
func listJSONFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
