package embedding

import (
	"context"
	"fmt"

	"github.com/aihub/vector-index-go/internal/config"
	"github.com/aihub/vector-index-go/internal/tokenizer"
)

// Provider 文本向量化能力，本地ONNX与远端API两种实现共用同一契约
// 调用方不感知具体实现
type Provider interface {
	// Embed 将文本编码为定长向量
	// padToTokens 为该索引登记的填充长度，pad=false 时按自然长度编码
	Embed(ctx context.Context, text string, padToTokens int, pad bool) ([]float32, error)
	// EmbedBatch 批量版本，返回与texts等长的向量序列
	EmbedBatch(ctx context.Context, texts []string, padToTokens int, pad bool) ([][]float32, error)
	// Dimensions 向量维度
	Dimensions() int
	// Ready 就绪状态
	Ready() bool
	// Close 释放资源
	Close() error
}

// NewProvider 根据配置选择Provider实现
func NewProvider(cfg *config.Config, tk *tokenizer.Tokenizer) (Provider, error) {
	switch cfg.Embedding.Provider {
	case "local":
		return NewLocalProvider(cfg, tk)
	case "api":
		return NewAPIProvider(cfg, tk), nil
	default:
		return nil, fmt.Errorf("未知的embeddingProvider: %s", cfg.Embedding.Provider)
	}
}
