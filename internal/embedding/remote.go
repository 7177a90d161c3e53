package embedding

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/aihub/vector-index-go/internal/config"
	"github.com/aihub/vector-index-go/internal/logger"
	"github.com/aihub/vector-index-go/internal/metrics"
)

const (
	// 远端单次请求的最大尝试次数
	maxAttempts = 10
	// 上下文超限重试时每次缩减的token数与下限
	contextShrinkStep  = 500
	contextShrinkFloor = 500

	contextLengthMarker = "maximum context length"
)

// tokenCodec 远端Provider所需的分词能力：计数、编码与逆映射
// 截断重发要求分词器能把id序列还原为文本
type tokenCodec interface {
	Count(text string) (int, error)
	Encode(text string) ([]int64, error)
	Decode(ids []int64) string
}

// APIProvider 基于OpenAI兼容接口的远端向量化实现
type APIProvider struct {
	client  *openai.Client
	codec   tokenCodec
	limiter *RateLimiter
	model   string
	dims    int
}

// NewAPIProvider 创建远端Provider
func NewAPIProvider(cfg *config.Config, tk tokenCodec) *APIProvider {
	clientCfg := openai.DefaultConfig(cfg.Embedding.HFKey)
	if cfg.Embedding.APIUrl != "" {
		clientCfg.BaseURL = cfg.Embedding.APIUrl
	}

	return &APIProvider{
		client:  openai.NewClientWithConfig(clientCfg),
		codec:   tk,
		limiter: NewRateLimiter(),
		model:   cfg.Embedding.APIModel,
		dims:    cfg.Embedding.VecDim,
	}
}

// Embed 调用远端接口向量化
// 上下文超限时按500递减截断上限重试，其余失败返回空向量
func (p *APIProvider) Embed(ctx context.Context, text string, padToTokens int, pad bool) ([]float32, error) {
	capTokens := padToTokens

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		send, err := p.truncate(text, capTokens)
		if err != nil {
			return nil, err
		}

		resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model:          openai.EmbeddingModel(p.model),
			Input:          []string{send},
			EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		})
		if err == nil {
			p.limiter.NotifySuccess()
			metrics.RateLimiterDelay.Set(p.limiter.Delay().Seconds())
			if len(resp.Data) == 0 {
				return []float32{}, nil
			}
			return resp.Data[0].Embedding, nil
		}

		if isContextLengthError(err) {
			capTokens -= contextShrinkStep
			if capTokens < contextShrinkFloor {
				capTokens = contextShrinkFloor
			}
			logger.Warn("上下文超限，缩减截断上限后重试",
				zap.Int("attempt", attempt+1),
				zap.Int("cap", capTokens))
			continue
		}

		p.limiter.NotifyFailure(statusCode(err) == http.StatusTooManyRequests)
		metrics.RateLimiterDelay.Set(p.limiter.Delay().Seconds())
		logger.Error("远端向量化调用失败", zap.Error(err))
		return []float32{}, nil
	}

	logger.Error("远端向量化重试次数耗尽", zap.Int("attempts", maxAttempts))
	return []float32{}, nil
}

// EmbedBatch 远端批量向量化，逐条调用
func (p *APIProvider) EmbedBatch(ctx context.Context, texts []string, padToTokens int, pad bool) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text, padToTokens, pad)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// truncate token数超过上限时截断id序列并逆映射回文本
func (p *APIProvider) truncate(text string, capTokens int) (string, error) {
	count, err := p.codec.Count(text)
	if err != nil {
		return "", err
	}
	if count <= capTokens {
		return text, nil
	}

	ids, err := p.codec.Encode(text)
	if err != nil {
		return "", err
	}
	if len(ids) > capTokens {
		ids = ids[:capTokens]
	}
	return p.codec.Decode(ids), nil
}

// Dimensions 向量维度
func (p *APIProvider) Dimensions() int {
	return p.dims
}

// Ready 就绪状态
func (p *APIProvider) Ready() bool {
	return p.client != nil && p.model != ""
}

// Close 远端实现无需释放资源
func (p *APIProvider) Close() error {
	return nil
}

// Limiter 暴露限速器，用于观测当前间隔
func (p *APIProvider) Limiter() *RateLimiter {
	return p.limiter
}

func isContextLengthError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), contextLengthMarker)
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
