package models

// CreateIndexRequest 建索引请求
// CreateFromJSONDataDir 为真时批量扫描数据目录，否则按JsonFile单文件索引
type CreateIndexRequest struct {
	IndexName             string `json:"indexName" validate:"required"`
	JsonFile              string `json:"jsonFile,omitempty"`
	JsonMapping           string `json:"jsonMapping,omitempty"`
	RecreateIndex         bool   `json:"recreateIndex"`
	CreateFromJSONDataDir bool   `json:"createFromJsonDataDir"`
	AppID                 string `json:"appId" validate:"required"`
	AuthKey               string `json:"authKey" validate:"required"`
	MessageID             string `json:"messageId"`
}

// QueryIndexRequest 检索请求
type QueryIndexRequest struct {
	IndexName        string `json:"indexName" validate:"required"`
	QueryText        string `json:"queryText" validate:"required"`
	VectorSearchMode string `json:"vectorSearchMode,omitempty"`
	// FieldWeights 多字段检索的权重覆盖，缺省使用策略的等权重
	FieldWeights map[string]float64 `json:"fieldWeights,omitempty"`
	AppID        string             `json:"appId" validate:"required"`
	AuthKey      string             `json:"authKey" validate:"required"`
	RoutingKey   string             `json:"routingKey,omitempty"`
}

// CreateSnapshotRequest 快照请求
type CreateSnapshotRequest struct {
	SnapshotRepo string   `json:"snapshotRepo" validate:"required"`
	SnapshotName string   `json:"snapshotName" validate:"required"`
	Indices      []string `json:"indices"`
	AppID        string   `json:"appId" validate:"required"`
	AuthKey      string   `json:"authKey" validate:"required"`
}

// ResultObj 通用处理结果
type ResultObj struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// QueryResult 单条检索结果
type QueryResult struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// QueryIndexResult 检索结果回执
type QueryIndexResult struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	QueryResults []QueryResult `json:"queryResults"`
}

// Ok 构造成功结果
func Ok(message string) *ResultObj {
	return &ResultObj{Success: true, Message: message}
}

// Fail 构造失败结果
func Fail(message string) *ResultObj {
	return &ResultObj{Success: false, Message: message}
}
