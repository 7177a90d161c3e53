package strategy

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/aihub/vector-index-go/internal/embedding"
	"github.com/aihub/vector-index-go/internal/logger"
)

const mitreIndex = "mitre"

// Mitre ATT&CK条目，单路向量对应input文本
type Mitre struct {
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// MitreStrategy mitre索引的策略实现
type MitreStrategy struct {
	opts Options
}

// NewMitreStrategy 创建mitre策略
func NewMitreStrategy(opts Options) *MitreStrategy {
	return &MitreStrategy{opts: opts}
}

// IndexName 逻辑索引名
func (s *MitreStrategy) IndexName() string {
	return mitreIndex
}

// CanHandle 按条目类型判别
func (s *MitreStrategy) CanHandle(item interface{}) bool {
	_, ok := item.(*Mitre)
	return ok
}

// CanHandleIndex 按索引名判别
func (s *MitreStrategy) CanHandleIndex(name string) bool {
	return name == mitreIndex
}

// Deserialize 解析JSON数组，失败返回空列表
func (s *MitreStrategy) Deserialize(data []byte) []interface{} {
	var entries []*Mitre
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Warn("mitre条目解析失败", zap.Error(err))
		return nil
	}
	items := make([]interface{}, len(entries))
	for i, e := range entries {
		items[i] = e
	}
	return items
}

// Fields 参与向量化的文本字段
func (s *MitreStrategy) Fields(item interface{}) []string {
	return []string{item.(*Mitre).Input}
}

// EnsureEmbeddings 填充缺失的向量字段
func (s *MitreStrategy) EnsureEmbeddings(ctx context.Context, item interface{}, provider embedding.Provider, padToTokens int) error {
	entry := item.(*Mitre)
	if len(entry.Embedding) > 0 {
		return nil
	}

	vec, err := embedField(ctx, provider, entry.Input, padToTokens, "embedding")
	if err != nil {
		return err
	}
	entry.Embedding = vec
	return nil
}

// ComputeID 以output文本为来源计算文档id
func (s *MitreStrategy) ComputeID(item interface{}) string {
	return ComputeSHA(item.(*Mitre).Output)
}

// BuildIndexDocument 生成写入引擎的文档体
func (s *MitreStrategy) BuildIndexDocument(item interface{}) map[string]interface{} {
	entry := item.(*Mitre)
	return map[string]interface{}{
		"input":     entry.Input,
		"output":    entry.Output,
		"embedding": entry.Embedding,
	}
}

// VectorField 单路向量，所有模式落到同一字段
func (s *MitreStrategy) VectorField(mode string) string {
	return "embedding"
}

// DefaultFieldWeights 多字段检索的缺省权重
func (s *MitreStrategy) DefaultFieldWeights() map[string]float64 {
	return map[string]float64{"embedding": 1.0}
}

// EngineMapping 生成引擎索引映射
func (s *MitreStrategy) EngineMapping(dims int) map[string]interface{} {
	return hnswMapping(
		[]string{"input", "output"},
		[]string{"embedding"},
		dims, s.opts.KnnEngine)
}

// EstimatePadding 扫描语料估算填充长度
func (s *MitreStrategy) EstimatePadding(files []string, counter TokenCounter, maxCap, minCap int) (int, int, error) {
	return estimatePadding(files, counter, s.Deserialize, s.Fields, maxCap, minCap)
}
