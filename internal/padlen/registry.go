package padlen

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/aihub/vector-index-go/internal/logger"
)

const configDirName = "index_config"

// Record 单个索引的填充长度登记
// PadToTokens 供后续所有向量化调用使用，ActualMaxTokens 仅用于诊断
type Record struct {
	PadToTokens     int `json:"padToTokens"`
	ActualMaxTokens int `json:"actualMaxTokens"`
}

// Registry 按索引名登记填充长度，内存与磁盘双写
// 磁盘文件是跨进程重启的事实来源
type Registry struct {
	dataDir string
	mu      sync.Mutex
	cache   map[string]Record
}

// NewRegistry 创建登记表
func NewRegistry(dataDir string) *Registry {
	return &Registry{
		dataDir: dataDir,
		cache:   make(map[string]Record),
	}
}

func (r *Registry) filePath(indexName string) string {
	return filepath.Join(r.dataDir, configDirName, fmt.Sprintf("%s_padtokens.json", indexName))
}

// Get 查询登记，顺序为内存、磁盘文件
// 文件被删除时同步失效内存项，保证删文件可触发重新估算
func (r *Registry) Get(indexName string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.filePath(indexName)
	if _, err := os.Stat(path); err != nil {
		delete(r.cache, indexName)
		return Record{}, false
	}

	if rec, ok := r.cache[indexName]; ok {
		return rec, true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		logger.Warn("填充长度文件损坏", zap.String("path", path), zap.Error(err))
		return Record{}, false
	}

	r.cache[indexName] = rec
	return rec, true
}

// Put 写入登记，内存与磁盘同时更新
func (r *Registry) Put(indexName string, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.filePath(indexName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建索引配置目录失败: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("序列化填充长度失败: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("写入填充长度文件失败: %w", err)
	}

	r.cache[indexName] = rec
	logger.Info("登记索引填充长度",
		zap.String("index", indexName),
		zap.Int("padToTokens", rec.PadToTokens),
		zap.Int("actualMaxTokens", rec.ActualMaxTokens))
	return nil
}
