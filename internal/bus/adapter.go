package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aihub/vector-index-go/internal/auth"
	"github.com/aihub/vector-index-go/internal/config"
	"github.com/aihub/vector-index-go/internal/logger"
	"github.com/aihub/vector-index-go/internal/models"
)

// IndexingHandler 索引编排入口
type IndexingHandler interface {
	CreateIndex(ctx context.Context, req *models.CreateIndexRequest) *models.ResultObj
	CreateSnapshot(ctx context.Context, req *models.CreateSnapshotRequest) *models.ResultObj
}

// QueryHandler 检索编排入口
type QueryHandler interface {
	Query(ctx context.Context, req *models.QueryIndexRequest) *models.QueryIndexResult
}

// Publisher 回执发布
type Publisher interface {
	Publish(topic, key string, payload interface{}) error
}

// Adapter 将总线端点绑定到编排服务
// 解码失败只记录不重投；鉴权失败回执Unauthorized后确认消息
type Adapter struct {
	cfg      *config.Config
	indexing IndexingHandler
	querying QueryHandler
	producer Publisher
	checker  *auth.Checker
	validate *validator.Validate
}

// NewAdapter 创建总线适配器
func NewAdapter(
	cfg *config.Config,
	indexing IndexingHandler,
	querying QueryHandler,
	producer Publisher,
	checker *auth.Checker,
) *Adapter {
	return &Adapter{
		cfg:      cfg,
		indexing: indexing,
		querying: querying,
		producer: producer,
		checker:  checker,
		validate: validator.New(),
	}
}

// Bind 注册三个逻辑端点
func (a *Adapter) Bind(consumer *Consumer) {
	consumer.RegisterHandler(a.cfg.Kafka.CreateIndexTopic, a.HandleCreateIndex)
	consumer.RegisterHandler(a.cfg.Kafka.QueryIndexTopic, a.HandleQueryIndex)
	consumer.RegisterHandler(a.cfg.Kafka.CreateSnapshotTopic, a.HandleCreateSnapshot)
}

// HandleCreateIndex 建索引端点
func (a *Adapter) HandleCreateIndex(ctx context.Context, data []byte) error {
	var req models.CreateIndexRequest
	if !a.decode(data, &req, "createIndex") {
		return nil
	}
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}

	replyTopic := fmt.Sprintf("createIndexResult%s", req.AppID)

	if err := a.authorize(req.AuthKey, req.AppID); err != nil {
		return a.producer.Publish(replyTopic, req.MessageID, models.Fail(err.Error()))
	}
	if err := a.validate.Struct(&req); err != nil {
		return a.producer.Publish(replyTopic, req.MessageID, models.Fail(fmt.Sprintf("请求字段无效: %v", err)))
	}

	result := a.indexing.CreateIndex(ctx, &req)
	return a.producer.Publish(replyTopic, req.MessageID, result)
}

// HandleQueryIndex 检索端点
func (a *Adapter) HandleQueryIndex(ctx context.Context, data []byte) error {
	var req models.QueryIndexRequest
	if !a.decode(data, &req, "queryIndex") {
		return nil
	}

	replyTopic := fmt.Sprintf("queryIndexResult%s", req.AppID)
	key := req.RoutingKey
	if key == "" {
		key = uuid.NewString()
	}

	if err := a.authorize(req.AuthKey, req.AppID); err != nil {
		return a.producer.Publish(replyTopic, key, &models.QueryIndexResult{
			Success: false, Message: err.Error(), QueryResults: []models.QueryResult{},
		})
	}
	if err := a.validate.Struct(&req); err != nil {
		return a.producer.Publish(replyTopic, key, &models.QueryIndexResult{
			Success: false, Message: fmt.Sprintf("请求字段无效: %v", err), QueryResults: []models.QueryResult{},
		})
	}

	result := a.querying.Query(ctx, &req)
	return a.producer.Publish(replyTopic, key, result)
}

// HandleCreateSnapshot 快照端点
func (a *Adapter) HandleCreateSnapshot(ctx context.Context, data []byte) error {
	var req models.CreateSnapshotRequest
	if !a.decode(data, &req, "createSnapshot") {
		return nil
	}

	replyTopic := fmt.Sprintf("createSnapshotResult%s", req.AppID)

	if err := a.authorize(req.AuthKey, req.AppID); err != nil {
		return a.producer.Publish(replyTopic, req.SnapshotName, models.Fail(err.Error()))
	}
	if err := a.validate.Struct(&req); err != nil {
		return a.producer.Publish(replyTopic, req.SnapshotName, models.Fail(fmt.Sprintf("请求字段无效: %v", err)))
	}

	result := a.indexing.CreateSnapshot(ctx, &req)
	return a.producer.Publish(replyTopic, req.SnapshotName, result)
}

// decode 解码请求，失败只记录日志并确认消息
func (a *Adapter) decode(data []byte, out interface{}, endpoint string) bool {
	if err := json.Unmarshal(data, out); err != nil {
		logger.Error("请求解码失败",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return false
	}
	return true
}

func (a *Adapter) authorize(authKey, appID string) error {
	if err := a.checker.Check(authKey, appID); err != nil {
		logger.Warn("鉴权失败", zap.String("app_id", appID))
		return err
	}
	return nil
}
