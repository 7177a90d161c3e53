package strategy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"

	"go.uber.org/zap"

	"github.com/aihub/vector-index-go/internal/embedding"
	apperrors "github.com/aihub/vector-index-go/internal/errors"
	"github.com/aihub/vector-index-go/internal/logger"
)

// ComputeSHA 对来源文本做SHA-256并编码为十六进制
func ComputeSHA(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// knnVectorField 单个knn_vector字段定义，HNSW + L2
func knnVectorField(dims int, knnEngine string) map[string]interface{} {
	return map[string]interface{}{
		"type":      "knn_vector",
		"dimension": dims,
		"method": map[string]interface{}{
			"name":       "hnsw",
			"space_type": "l2",
			"engine":     knnEngine,
		},
	}
}

// hnswMapping 由文本字段与向量字段列表生成完整索引映射
func hnswMapping(textFields, vectorFields []string, dims int, knnEngine string) map[string]interface{} {
	props := make(map[string]interface{}, len(textFields)+len(vectorFields))
	for _, f := range textFields {
		props[f] = map[string]interface{}{"type": "text"}
	}
	for _, f := range vectorFields {
		props[f] = knnVectorField(dims, knnEngine)
	}

	return map[string]interface{}{
		"settings": map[string]interface{}{
			"index": map[string]interface{}{
				"knn": true,
			},
		},
		"mappings": map[string]interface{}{
			"properties": props,
		},
	}
}

// embedField 为单个缺失的向量字段生成向量，空向量报EMBEDDING_FAILED
func embedField(ctx context.Context, provider embedding.Provider, text string, padToTokens int, fieldName string) ([]float32, error) {
	vec, err := provider.Embed(ctx, text, padToTokens, true)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeEmbeddingFailed, "字段 %s 向量化返回空向量", fieldName)
	}
	return vec, nil
}

// estimatePadding 策略共享的填充长度估算
// 逐文件逐条目逐字段计数，观测值达到maxCap立即返回，最终结果钳位到[minCap, maxCap]
func estimatePadding(
	files []string,
	counter TokenCounter,
	deserialize func([]byte) []interface{},
	fields func(interface{}) []string,
	maxCap, minCap int,
) (int, int, error) {
	observed := 0

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			logger.Warn("读取语料文件失败，跳过", zap.String("file", file), zap.Error(err))
			continue
		}
		for _, item := range deserialize(data) {
			for _, text := range fields(item) {
				n, err := counter.Count(text)
				if err != nil {
					return 0, 0, err
				}
				if n > observed {
					observed = n
				}
				if observed >= maxCap {
					// 已触顶，剩余语料不再扫描
					return maxCap, observed, nil
				}
			}
		}
	}

	pad := observed
	if pad < minCap {
		pad = minCap
	}
	if pad > maxCap {
		pad = maxCap
	}
	return pad, observed, nil
}
