package strategy

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/aihub/vector-index-go/internal/embedding"
	"github.com/aihub/vector-index-go/internal/logger"
)

const documentsIndex = "documents"

// Document 问答文档条目
// 向量字段在EnsureEmbeddings中填充一次，之后不再变更
type Document struct {
	Instruction     string    `json:"instruction,omitempty"`
	Input           string    `json:"input"`
	Output          string    `json:"output"`
	InputEmbedding  []float32 `json:"input_embedding,omitempty"`
	OutputEmbedding []float32 `json:"output_embedding,omitempty"`
}

// DocumentStrategy documents索引的策略实现
type DocumentStrategy struct {
	opts Options
}

// NewDocumentStrategy 创建documents策略
func NewDocumentStrategy(opts Options) *DocumentStrategy {
	return &DocumentStrategy{opts: opts}
}

// IndexName 逻辑索引名
func (s *DocumentStrategy) IndexName() string {
	return documentsIndex
}

// CanHandle 按条目类型判别
func (s *DocumentStrategy) CanHandle(item interface{}) bool {
	_, ok := item.(*Document)
	return ok
}

// CanHandleIndex 按索引名判别
func (s *DocumentStrategy) CanHandleIndex(name string) bool {
	return name == documentsIndex
}

// Deserialize 解析JSON数组，失败返回空列表
func (s *DocumentStrategy) Deserialize(data []byte) []interface{} {
	var docs []*Document
	if err := json.Unmarshal(data, &docs); err != nil {
		logger.Warn("documents条目解析失败", zap.Error(err))
		return nil
	}
	items := make([]interface{}, len(docs))
	for i, d := range docs {
		items[i] = d
	}
	return items
}

// Fields 参与向量化的文本字段
func (s *DocumentStrategy) Fields(item interface{}) []string {
	doc := item.(*Document)
	return []string{doc.Input, doc.Output}
}

// EnsureEmbeddings 填充缺失的向量字段
func (s *DocumentStrategy) EnsureEmbeddings(ctx context.Context, item interface{}, provider embedding.Provider, padToTokens int) error {
	doc := item.(*Document)

	if len(doc.InputEmbedding) == 0 {
		vec, err := embedField(ctx, provider, doc.Input, padToTokens, "input_embedding")
		if err != nil {
			return err
		}
		doc.InputEmbedding = vec
	}
	if len(doc.OutputEmbedding) == 0 {
		vec, err := embedField(ctx, provider, doc.Output, padToTokens, "output_embedding")
		if err != nil {
			return err
		}
		doc.OutputEmbedding = vec
	}
	return nil
}

// ComputeID 以output文本为来源计算文档id
func (s *DocumentStrategy) ComputeID(item interface{}) string {
	return ComputeSHA(item.(*Document).Output)
}

// BuildIndexDocument 生成写入引擎的文档体
func (s *DocumentStrategy) BuildIndexDocument(item interface{}) map[string]interface{} {
	doc := item.(*Document)
	return map[string]interface{}{
		"input":            doc.Input,
		"output":           doc.Output,
		"input_embedding":  doc.InputEmbedding,
		"output_embedding": doc.OutputEmbedding,
	}
}

// VectorField 检索模式到向量字段的映射
func (s *DocumentStrategy) VectorField(mode string) string {
	switch mode {
	case ModeQuestion:
		return "input_embedding"
	default:
		return "output_embedding"
	}
}

// DefaultFieldWeights 多字段检索的缺省权重
func (s *DocumentStrategy) DefaultFieldWeights() map[string]float64 {
	return map[string]float64{
		"input_embedding":  1.0,
		"output_embedding": 1.0,
	}
}

// EngineMapping 生成引擎索引映射
func (s *DocumentStrategy) EngineMapping(dims int) map[string]interface{} {
	return hnswMapping(
		[]string{"input", "output"},
		[]string{"input_embedding", "output_embedding"},
		dims, s.opts.KnnEngine)
}

// EstimatePadding 扫描语料估算填充长度
func (s *DocumentStrategy) EstimatePadding(files []string, counter TokenCounter, maxCap, minCap int) (int, int, error) {
	return estimatePadding(files, counter, s.Deserialize, s.Fields, maxCap, minCap)
}
