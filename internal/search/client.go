package search

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/aihub/vector-index-go/internal/config"
	apperrors "github.com/aihub/vector-index-go/internal/errors"
	"github.com/aihub/vector-index-go/internal/logger"
)

// Hit 检索命中
type Hit struct {
	ID     string
	Score  float64
	Source map[string]interface{}
}

// Client 外部k-NN引擎的薄封装
// 集群内部署使用自签名证书，客户端有意跳过TLS校验
type Client struct {
	es *elasticsearch.Client
}

// NewClient 创建引擎客户端
func NewClient(cfg *config.Config) (*Client, error) {
	esCfg := elasticsearch.Config{
		Addresses: []string{cfg.OpenSearch.URL},
		Username:  cfg.OpenSearch.User,
		Password:  cfg.OpenSearch.Key,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("创建引擎客户端失败: %w", err)
	}

	logger.Info("引擎客户端就绪", zap.String("url", cfg.OpenSearch.URL))
	return &Client{es: es}, nil
}

// Exists 判断索引是否存在
func (c *Client) Exists(ctx context.Context, index string) (bool, error) {
	req := esapi.IndicesExistsRequest{Index: []string{index}}
	resp, err := req.Do(ctx, c.es)
	if err != nil {
		return false, fmt.Errorf("查询索引存在性失败: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// CreateIndex 按映射创建索引
func (c *Client) CreateIndex(ctx context.Context, index string, mapping map[string]interface{}) error {
	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("序列化索引映射失败: %w", err)
	}

	req := esapi.IndicesCreateRequest{
		Index: index,
		Body:  bytes.NewReader(body),
	}
	resp, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("创建索引失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return apperrors.Newf(apperrors.ErrCodeEngineRejected, "创建索引被拒绝: %s", resp.String())
	}
	logger.Info("索引已创建", zap.String("index", index))
	return nil
}

// DeleteIndex 删除索引，索引不存在不视为错误
func (c *Client) DeleteIndex(ctx context.Context, index string) error {
	req := esapi.IndicesDeleteRequest{Index: []string{index}}
	resp, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("删除索引失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.IsError() {
		return apperrors.Newf(apperrors.ErrCodeEngineRejected, "删除索引被拒绝: %s", resp.String())
	}
	logger.Info("索引已删除", zap.String("index", index))
	return nil
}

// ExistsDoc 判断文档是否存在
func (c *Client) ExistsDoc(ctx context.Context, index, id string) (bool, error) {
	req := esapi.ExistsRequest{Index: index, DocumentID: id}
	resp, err := req.Do(ctx, c.es)
	if err != nil {
		return false, fmt.Errorf("查询文档存在性失败: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// IndexDoc 写入单个文档
func (c *Client) IndexDoc(ctx context.Context, index, id string, body map[string]interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化文档失败: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(payload),
		Refresh:    "true",
	}
	resp, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("写入文档失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return apperrors.Newf(apperrors.ErrCodeEngineRejected, "写入文档被拒绝: %s", resp.String())
	}
	return nil
}

// KnnSearch 单字段k-NN检索
func (c *Client) KnnSearch(ctx context.Context, index, vectorField string, vector []float32, k int) ([]Hit, error) {
	body := map[string]interface{}{
		"size": k,
		"query": map[string]interface{}{
			"knn": map[string]interface{}{
				vectorField: map[string]interface{}{
					"vector": vector,
					"k":      k,
				},
			},
		},
	}
	return c.search(ctx, index, body)
}

// MultiFieldKnnSearch 多字段加权k-NN检索
// 构造bool/should，每个字段一个带权重的function_score knn子句
func (c *Client) MultiFieldKnnSearch(ctx context.Context, index string, weights map[string]float64, vector []float32, kPerField int) ([]Hit, error) {
	should := make([]interface{}, 0, len(weights))
	for field, weight := range weights {
		should = append(should, map[string]interface{}{
			"function_score": map[string]interface{}{
				"query": map[string]interface{}{
					"knn": map[string]interface{}{
						field: map[string]interface{}{
							"vector": vector,
							"k":      kPerField,
						},
					},
				},
				"weight": weight,
			},
		})
	}

	body := map[string]interface{}{
		"size": kPerField,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should": should,
			},
		},
	}
	return c.search(ctx, index, body)
}

func (c *Client) search(ctx context.Context, index string, body map[string]interface{}) ([]Hit, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化查询体失败: %w", err)
	}

	req := esapi.SearchRequest{
		Index: []string{index},
		Body:  bytes.NewReader(payload),
	}
	resp, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, fmt.Errorf("检索失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, apperrors.Newf(apperrors.ErrCodeEngineRejected, "检索被拒绝: %s", resp.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				ID     string                 `json:"_id"`
				Score  float64                `json:"_score"`
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("解析检索结果失败: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits.Hits))
	for _, raw := range result.Hits.Hits {
		hits = append(hits, Hit{ID: raw.ID, Score: raw.Score, Source: raw.Source})
	}
	return hits, nil
}

// CountDocs 索引文档总数，用于启动观测
func (c *Client) CountDocs(ctx context.Context, index string) (int64, error) {
	req := esapi.CountRequest{Index: []string{index}}
	resp, err := req.Do(ctx, c.es)
	if err != nil {
		return 0, fmt.Errorf("统计文档数失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return 0, apperrors.Newf(apperrors.ErrCodeEngineRejected, "统计文档数被拒绝: %s", resp.String())
	}

	var result struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("解析统计结果失败: %w", err)
	}
	return result.Count, nil
}

// SnapshotCreate 创建快照，PUT /_snapshot/{repo}/{name}
func (c *Client) SnapshotCreate(ctx context.Context, repo, name string, indices []string) error {
	body, err := json.Marshal(map[string]interface{}{
		"indices": strings.Join(indices, ","),
	})
	if err != nil {
		return fmt.Errorf("序列化快照请求失败: %w", err)
	}

	waitForCompletion := true
	req := esapi.SnapshotCreateRequest{
		Repository:        repo,
		Snapshot:          name,
		Body:              bytes.NewReader(body),
		WaitForCompletion: &waitForCompletion,
	}
	resp, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("创建快照失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return apperrors.Newf(apperrors.ErrCodeEngineRejected, "创建快照被拒绝: %s", resp.String())
	}
	logger.Info("快照已创建", zap.String("repo", repo), zap.String("snapshot", name))
	return nil
}

// SnapshotRestore 恢复快照，POST /_snapshot/{repo}/{name}/_restore
func (c *Client) SnapshotRestore(ctx context.Context, repo, name string, indices []string) error {
	body, err := json.Marshal(map[string]interface{}{
		"indices": strings.Join(indices, ","),
	})
	if err != nil {
		return fmt.Errorf("序列化恢复请求失败: %w", err)
	}

	req := esapi.SnapshotRestoreRequest{
		Repository: repo,
		Snapshot:   name,
		Body:       bytes.NewReader(body),
	}
	resp, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("恢复快照失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return apperrors.Newf(apperrors.ErrCodeEngineRejected, "恢复快照被拒绝: %s", resp.String())
	}
	logger.Info("快照已恢复", zap.String("repo", repo), zap.String("snapshot", name))
	return nil
}

// Ready 就绪状态
func (c *Client) Ready() bool {
	return c.es != nil
}
