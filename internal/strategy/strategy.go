package strategy

import (
	"context"

	"github.com/aihub/vector-index-go/internal/embedding"
)

// 检索模式，未知模式降级为content
const (
	ModeContent  = "content"
	ModeQuestion = "question"
	ModeSummary  = "summary"
)

// Options 策略共享配置
type Options struct {
	// KnnEngine 映射中声明的HNSW实现，需与部署的引擎一致
	KnnEngine string
}

// TokenCounter 填充长度估算所需的计数能力
type TokenCounter interface {
	Count(text string) (int, error)
}

// IndexStrategy 按条目形态分派的索引策略
// 每个实现绑定一个逻辑索引，流水线代码只依赖该契约
type IndexStrategy interface {
	// IndexName 策略对应的逻辑索引名，全局唯一
	IndexName() string
	// CanHandle 按条目类型判别
	CanHandle(item interface{}) bool
	// CanHandleIndex 按索引名判别
	CanHandleIndex(name string) bool
	// Deserialize 解析JSON为条目列表，失败返回空列表
	Deserialize(data []byte) []interface{}
	// Fields 条目中参与向量化的文本字段，供填充估算使用
	Fields(item interface{}) []string
	// EnsureEmbeddings 为所有缺失的向量字段生成向量，空向量视为失败
	EnsureEmbeddings(ctx context.Context, item interface{}, provider embedding.Provider, padToTokens int) error
	// ComputeID 对确定的来源字段做SHA-256，返回十六进制串
	ComputeID(item interface{}) string
	// BuildIndexDocument 生成写入引擎的文档体
	BuildIndexDocument(item interface{}) map[string]interface{}
	// VectorField 检索模式到向量字段的映射
	VectorField(mode string) string
	// DefaultFieldWeights 多字段检索的缺省权重
	DefaultFieldWeights() map[string]float64
	// EngineMapping 生成引擎索引映射
	EngineMapping(dims int) map[string]interface{}
	// EstimatePadding 扫描语料估算填充长度，返回(钳位后的pad, 观测到的最大token数)
	EstimatePadding(files []string, counter TokenCounter, maxCap, minCap int) (int, int, error)
}

// All 返回全部已注册策略
func All(opts Options) []IndexStrategy {
	return []IndexStrategy{
		NewDocumentStrategy(opts),
		NewSecurityBookStrategy(opts),
		NewMitreStrategy(opts),
	}
}

// ForIndex 按索引名选择策略
func ForIndex(strategies []IndexStrategy, indexName string) (IndexStrategy, bool) {
	for _, s := range strategies {
		if s.CanHandleIndex(indexName) {
			return s, true
		}
	}
	return nil, false
}

// ForItem 按条目类型选择策略
func ForItem(strategies []IndexStrategy, item interface{}) (IndexStrategy, bool) {
	for _, s := range strategies {
		if s.CanHandle(item) {
			return s, true
		}
	}
	return nil, false
}
