package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/vector-index-go/internal/config"
	"github.com/aihub/vector-index-go/internal/models"
	"github.com/aihub/vector-index-go/internal/padlen"
	"github.com/aihub/vector-index-go/internal/search"
	"github.com/aihub/vector-index-go/internal/strategy"
)

// fakeEngine 内存引擎
type fakeEngine struct {
	indices   map[string]bool
	docs      map[string]map[string]map[string]interface{}
	created   []string
	deleted   []string
	snapshots []string
	failIndex bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		indices: make(map[string]bool),
		docs:    make(map[string]map[string]map[string]interface{}),
	}
}

func (e *fakeEngine) Exists(ctx context.Context, index string) (bool, error) {
	return e.indices[index], nil
}

func (e *fakeEngine) CreateIndex(ctx context.Context, index string, mapping map[string]interface{}) error {
	e.indices[index] = true
	e.created = append(e.created, index)
	if e.docs[index] == nil {
		e.docs[index] = make(map[string]map[string]interface{})
	}
	return nil
}

func (e *fakeEngine) DeleteIndex(ctx context.Context, index string) error {
	delete(e.indices, index)
	delete(e.docs, index)
	e.deleted = append(e.deleted, index)
	return nil
}

func (e *fakeEngine) ExistsDoc(ctx context.Context, index, id string) (bool, error) {
	_, ok := e.docs[index][id]
	return ok, nil
}

func (e *fakeEngine) IndexDoc(ctx context.Context, index, id string, body map[string]interface{}) error {
	if e.failIndex {
		return fmt.Errorf("engine unavailable")
	}
	if e.docs[index] == nil {
		e.docs[index] = make(map[string]map[string]interface{})
	}
	e.docs[index][id] = body
	return nil
}

func (e *fakeEngine) KnnSearch(ctx context.Context, index, vectorField string, vector []float32, k int) ([]search.Hit, error) {
	var hits []search.Hit
	for id, doc := range e.docs[index] {
		hits = append(hits, search.Hit{ID: id, Score: 1, Source: doc})
	}
	return hits, nil
}

func (e *fakeEngine) MultiFieldKnnSearch(ctx context.Context, index string, weights map[string]float64, vector []float32, kPerField int) ([]search.Hit, error) {
	return e.KnnSearch(ctx, index, "", vector, kPerField)
}

func (e *fakeEngine) SnapshotCreate(ctx context.Context, repo, name string, indices []string) error {
	e.snapshots = append(e.snapshots, repo+"/"+name)
	return nil
}

func (e *fakeEngine) SnapshotRestore(ctx context.Context, repo, name string, indices []string) error {
	return nil
}

// fakeProvider 定长假向量
type fakeProvider struct {
	dims      int
	calls     int
	empty     bool
	lastPadTo int
	lastPad   bool
}

func (f *fakeProvider) Embed(ctx context.Context, text string, padToTokens int, pad bool) ([]float32, error) {
	f.calls++
	f.lastPadTo = padToTokens
	f.lastPad = pad
	if f.empty {
		return []float32{}, nil
	}
	return make([]float32, f.dims), nil
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string, padToTokens int, pad bool) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = f.Embed(ctx, texts[i], padToTokens, pad)
	}
	return out, nil
}

func (f *fakeProvider) Dimensions() int { return f.dims }
func (f *fakeProvider) Ready() bool     { return true }
func (f *fakeProvider) Close() error    { return nil }

type runeCounter struct{}

func (runeCounter) Count(text string) (int, error) {
	return len([]rune(text)), nil
}

func testConfig(dataDir string) *config.Config {
	cfg := &config.Config{DataDir: dataDir}
	cfg.Embedding.VecDim = 8
	cfg.Embedding.MinTokenLengthCap = 64
	cfg.Embedding.MaxTokenLengthCap = 512
	cfg.OpenSearch.KnnEngine = "nmslib"
	return cfg
}

func writeDocFile(t *testing.T, dataDir, index, name string, payload interface{}) string {
	t.Helper()
	dir := filepath.Join(dataDir, index)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newIndexingFixture(t *testing.T) (*IndexingService, *fakeEngine, *padlen.Registry, string) {
	t.Helper()
	dataDir := t.TempDir()
	cfg := testConfig(dataDir)
	engine := newFakeEngine()
	registry := padlen.NewRegistry(dataDir)
	strategies := strategy.All(strategy.Options{KnnEngine: cfg.OpenSearch.KnnEngine})

	svc := NewIndexingService(cfg, &fakeProvider{dims: 8}, runeCounter{}, registry, engine, strategies)
	return svc, engine, registry, dataDir
}

func bulkRequest(recreate bool) *models.CreateIndexRequest {
	return &models.CreateIndexRequest{
		IndexName:             "documents",
		CreateFromJSONDataDir: true,
		RecreateIndex:         recreate,
		AppID:                 "app-1",
		AuthKey:               "key",
	}
}

func TestBulkIndexFreshIndex(t *testing.T) {
	svc, engine, registry, dataDir := newIndexingFixture(t)
	writeDocFile(t, dataDir, "documents", "a.json", []map[string]string{
		{"input": "q1", "output": "a1"},
		{"input": "q2", "output": "a2"},
	})

	res := svc.CreateIndex(context.Background(), bulkRequest(false))
	require.True(t, res.Success, res.Message)

	// 两条文档写入，id为output的SHA-256
	assert.Len(t, engine.docs["documents"], 2)
	assert.Contains(t, engine.docs["documents"], strategy.ComputeSHA("a1"))
	assert.Contains(t, engine.docs["documents"], strategy.ComputeSHA("a2"))

	// 填充长度已登记且钳位到下限
	rec, ok := registry.Get("documents")
	require.True(t, ok)
	assert.Equal(t, 64, rec.PadToTokens)
	assert.GreaterOrEqual(t, rec.PadToTokens, rec.ActualMaxTokens)
}

func TestBulkIndexIdempotent(t *testing.T) {
	svc, engine, _, dataDir := newIndexingFixture(t)
	writeDocFile(t, dataDir, "documents", "a.json", []map[string]string{
		{"input": "q1", "output": "a1"},
	})

	require.True(t, svc.CreateIndex(context.Background(), bulkRequest(false)).Success)
	require.True(t, svc.CreateIndex(context.Background(), bulkRequest(false)).Success)

	// 第二次按id跳过，不产生重复
	assert.Len(t, engine.docs["documents"], 1)
}

func TestBulkIndexRecreateDropsOldDocs(t *testing.T) {
	svc, engine, _, dataDir := newIndexingFixture(t)
	writeDocFile(t, dataDir, "documents", "a.json", []map[string]string{
		{"input": "q1", "output": "a1"},
		{"input": "q2", "output": "a2"},
	})

	require.True(t, svc.CreateIndex(context.Background(), bulkRequest(true)).Success)
	require.True(t, svc.CreateIndex(context.Background(), bulkRequest(true)).Success)

	assert.Len(t, engine.docs["documents"], 2)
	assert.Contains(t, engine.deleted, "documents")
}

func TestBulkIndexSkipsConfigDirAndUnknownIndex(t *testing.T) {
	svc, engine, _, dataDir := newIndexingFixture(t)
	writeDocFile(t, dataDir, "index_config", "documents_padtokens.json", map[string]int{"padToTokens": 64})
	writeDocFile(t, dataDir, "nonexistent_kind", "a.json", []map[string]string{{"input": "x", "output": "y"}})

	res := svc.CreateIndex(context.Background(), bulkRequest(false))
	require.True(t, res.Success, res.Message)
	assert.Empty(t, engine.created)
}

func TestBulkIndexEmbeddingFailureSkipsItem(t *testing.T) {
	dataDir := t.TempDir()
	cfg := testConfig(dataDir)
	engine := newFakeEngine()
	registry := padlen.NewRegistry(dataDir)
	strategies := strategy.All(strategy.Options{KnnEngine: "nmslib"})
	svc := NewIndexingService(cfg, &fakeProvider{dims: 8, empty: true}, runeCounter{}, registry, engine, strategies)

	writeDocFile(t, dataDir, "documents", "a.json", []map[string]string{
		{"input": "q1", "output": "a1"},
	})

	res := svc.CreateIndex(context.Background(), bulkRequest(false))
	// 单条失败不中断，但整体结果为失败
	assert.False(t, res.Success)
	assert.Empty(t, engine.docs["documents"])
}

func TestBulkIndexEngineRejectionContinues(t *testing.T) {
	svc, engine, _, dataDir := newIndexingFixture(t)
	engine.failIndex = true
	writeDocFile(t, dataDir, "documents", "a.json", []map[string]string{
		{"input": "q1", "output": "a1"},
		{"input": "q2", "output": "a2"},
	})

	res := svc.CreateIndex(context.Background(), bulkRequest(false))
	assert.False(t, res.Success)
	// 两条都尝试过
	assert.Contains(t, res.Message, "失败 2 条")
}

func TestSingleFileRequiresPadLength(t *testing.T) {
	svc, _, _, dataDir := newIndexingFixture(t)
	file := writeDocFile(t, dataDir, "documents", "a.json", []map[string]string{
		{"input": "q1", "output": "a1"},
	})

	res := svc.CreateIndex(context.Background(), &models.CreateIndexRequest{
		IndexName: "documents",
		JsonFile:  file,
		AppID:     "app-1",
		AuthKey:   "key",
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "未登记填充长度")
}

func TestSingleFileUsesRegisteredPadLength(t *testing.T) {
	svc, engine, registry, dataDir := newIndexingFixture(t)
	require.NoError(t, registry.Put("documents", padlen.Record{PadToTokens: 192, ActualMaxTokens: 180}))
	file := writeDocFile(t, dataDir, "documents", "a.json", []map[string]string{
		{"input": "q1", "output": "a1"},
	})

	res := svc.CreateIndex(context.Background(), &models.CreateIndexRequest{
		IndexName: "documents",
		JsonFile:  file,
		AppID:     "app-1",
		AuthKey:   "key",
	})
	require.True(t, res.Success, res.Message)
	assert.Len(t, engine.docs["documents"], 1)
}

func TestPadLengthReusedAcrossRuns(t *testing.T) {
	svc, _, registry, dataDir := newIndexingFixture(t)
	writeDocFile(t, dataDir, "documents", "a.json", []map[string]string{
		{"input": "q1", "output": "a1"},
	})

	require.True(t, svc.CreateIndex(context.Background(), bulkRequest(false)).Success)
	rec, ok := registry.Get("documents")
	require.True(t, ok)

	// 手工改写登记值后重跑，验证不重新估算
	require.NoError(t, registry.Put("documents", padlen.Record{PadToTokens: 300, ActualMaxTokens: rec.ActualMaxTokens}))
	require.True(t, svc.CreateIndex(context.Background(), bulkRequest(false)).Success)

	rec, _ = registry.Get("documents")
	assert.Equal(t, 300, rec.PadToTokens)
}

func TestCreateSnapshot(t *testing.T) {
	svc, engine, _, _ := newIndexingFixture(t)

	res := svc.CreateSnapshot(context.Background(), &models.CreateSnapshotRequest{
		SnapshotRepo: "backups",
		SnapshotName: "nightly",
		Indices:      []string{"documents"},
	})
	require.True(t, res.Success)
	assert.Equal(t, []string{"backups/nightly"}, engine.snapshots)
}
