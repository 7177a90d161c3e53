package strategy

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/aihub/vector-index-go/internal/embedding"
	"github.com/aihub/vector-index-go/internal/logger"
)

const securityBooksIndex = "securitybooks"

// SecurityBook 安全书目条目，三路文本三路向量
type SecurityBook struct {
	Input            string    `json:"input"`
	Output           string    `json:"output"`
	Summary          string    `json:"summary"`
	InputEmbedding   []float32 `json:"input_embedding,omitempty"`
	OutputEmbedding  []float32 `json:"output_embedding,omitempty"`
	SummaryEmbedding []float32 `json:"summary_embedding,omitempty"`
}

// SecurityBookStrategy securitybooks索引的策略实现
type SecurityBookStrategy struct {
	opts Options
}

// NewSecurityBookStrategy 创建securitybooks策略
func NewSecurityBookStrategy(opts Options) *SecurityBookStrategy {
	return &SecurityBookStrategy{opts: opts}
}

// IndexName 逻辑索引名
func (s *SecurityBookStrategy) IndexName() string {
	return securityBooksIndex
}

// CanHandle 按条目类型判别
func (s *SecurityBookStrategy) CanHandle(item interface{}) bool {
	_, ok := item.(*SecurityBook)
	return ok
}

// CanHandleIndex 按索引名判别
func (s *SecurityBookStrategy) CanHandleIndex(name string) bool {
	return name == securityBooksIndex
}

// Deserialize 解析JSON数组，失败返回空列表
func (s *SecurityBookStrategy) Deserialize(data []byte) []interface{} {
	var books []*SecurityBook
	if err := json.Unmarshal(data, &books); err != nil {
		logger.Warn("securitybooks条目解析失败", zap.Error(err))
		return nil
	}
	items := make([]interface{}, len(books))
	for i, b := range books {
		items[i] = b
	}
	return items
}

// Fields 参与向量化的文本字段
func (s *SecurityBookStrategy) Fields(item interface{}) []string {
	book := item.(*SecurityBook)
	return []string{book.Input, book.Output, book.Summary}
}

// EnsureEmbeddings 填充缺失的向量字段
func (s *SecurityBookStrategy) EnsureEmbeddings(ctx context.Context, item interface{}, provider embedding.Provider, padToTokens int) error {
	book := item.(*SecurityBook)

	if len(book.InputEmbedding) == 0 {
		vec, err := embedField(ctx, provider, book.Input, padToTokens, "input_embedding")
		if err != nil {
			return err
		}
		book.InputEmbedding = vec
	}
	if len(book.OutputEmbedding) == 0 {
		vec, err := embedField(ctx, provider, book.Output, padToTokens, "output_embedding")
		if err != nil {
			return err
		}
		book.OutputEmbedding = vec
	}
	if len(book.SummaryEmbedding) == 0 {
		vec, err := embedField(ctx, provider, book.Summary, padToTokens, "summary_embedding")
		if err != nil {
			return err
		}
		book.SummaryEmbedding = vec
	}
	return nil
}

// ComputeID 以output文本为来源计算文档id
func (s *SecurityBookStrategy) ComputeID(item interface{}) string {
	return ComputeSHA(item.(*SecurityBook).Output)
}

// BuildIndexDocument 生成写入引擎的文档体
func (s *SecurityBookStrategy) BuildIndexDocument(item interface{}) map[string]interface{} {
	book := item.(*SecurityBook)
	return map[string]interface{}{
		"input":             book.Input,
		"output":            book.Output,
		"summary":           book.Summary,
		"input_embedding":   book.InputEmbedding,
		"output_embedding":  book.OutputEmbedding,
		"summary_embedding": book.SummaryEmbedding,
	}
}

// VectorField 检索模式到向量字段的映射
func (s *SecurityBookStrategy) VectorField(mode string) string {
	switch mode {
	case ModeQuestion:
		return "input_embedding"
	case ModeSummary:
		return "summary_embedding"
	default:
		return "output_embedding"
	}
}

// DefaultFieldWeights 多字段检索的缺省权重
func (s *SecurityBookStrategy) DefaultFieldWeights() map[string]float64 {
	return map[string]float64{
		"input_embedding":   1.0,
		"output_embedding":  1.0,
		"summary_embedding": 1.0,
	}
}

// EngineMapping 生成引擎索引映射
func (s *SecurityBookStrategy) EngineMapping(dims int) map[string]interface{} {
	return hnswMapping(
		[]string{"input", "output", "summary"},
		[]string{"input_embedding", "output_embedding", "summary_embedding"},
		dims, s.opts.KnnEngine)
}

// EstimatePadding 扫描语料估算填充长度
func (s *SecurityBookStrategy) EstimatePadding(files []string, counter TokenCounter, maxCap, minCap int) (int, int, error) {
	return estimatePadding(files, counter, s.Deserialize, s.Fields, maxCap, minCap)
}
