package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/vector-index-go/internal/config"
	apperrors "github.com/aihub/vector-index-go/internal/errors"
)

type capturedRequest struct {
	method string
	path   string
	body   map[string]interface{}
}

// newTestClient 启动假引擎并返回指向它的客户端
func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	cfg := &config.Config{}
	cfg.OpenSearch.URL = server.URL
	cfg.OpenSearch.User = "admin"
	cfg.OpenSearch.Key = "secret"

	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client, server
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	return body
}

func TestExists(t *testing.T) {
	var got capturedRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = capturedRequest{method: r.Method, path: r.URL.Path}
		w.WriteHeader(http.StatusOK)
	})

	ok, err := client.Exists(context.Background(), "documents")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, http.MethodHead, got.method)
	assert.Equal(t, "/documents", got.path)
}

func TestExistsAbsent(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ok, err := client.Exists(context.Background(), "documents")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateIndexSendsMapping(t *testing.T) {
	var got capturedRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = capturedRequest{method: r.Method, path: r.URL.Path, body: decodeBody(t, r)}
		fmt.Fprint(w, `{"acknowledged":true}`)
	})

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"input": map[string]interface{}{"type": "text"},
			},
		},
	}
	require.NoError(t, client.CreateIndex(context.Background(), "documents", mapping))
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/documents", got.path)
	assert.Contains(t, got.body, "mappings")
}

func TestCreateIndexRejected(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"mapping broken"}`)
	})

	err := client.CreateIndex(context.Background(), "documents", map[string]interface{}{})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeEngineRejected))
}

func TestDeleteIndexAbsentOK(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	assert.NoError(t, client.DeleteIndex(context.Background(), "documents"))
}

func TestIndexDocWritesID(t *testing.T) {
	var got capturedRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = capturedRequest{method: r.Method, path: r.URL.Path, body: decodeBody(t, r)}
		fmt.Fprint(w, `{"result":"created"}`)
	})

	err := client.IndexDoc(context.Background(), "documents", "abc123", map[string]interface{}{
		"input":  "q1",
		"output": "a1",
	})
	require.NoError(t, err)
	assert.Equal(t, "/documents/_doc/abc123", got.path)
	assert.Equal(t, "q1", got.body["input"])
}

func searchResponse() string {
	return `{"hits":{"hits":[
		{"_id":"id1","_score":1.5,"_source":{"input":"q1","output":"a1"}},
		{"_id":"id2","_score":0.9,"_source":{"input":"q2","output":"a2"}}
	]}}`
}

func TestKnnSearchBody(t *testing.T) {
	var got capturedRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = capturedRequest{method: r.Method, path: r.URL.Path, body: decodeBody(t, r)}
		fmt.Fprint(w, searchResponse())
	})

	hits, err := client.KnnSearch(context.Background(), "documents", "output_embedding", []float32{0.1, 0.2}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "id1", hits[0].ID)
	assert.Equal(t, "a1", hits[0].Source["output"])

	assert.Equal(t, "/documents/_search", got.path)
	assert.Equal(t, float64(3), got.body["size"])
	knn := got.body["query"].(map[string]interface{})["knn"].(map[string]interface{})
	field := knn["output_embedding"].(map[string]interface{})
	assert.Equal(t, float64(3), field["k"])
	assert.Len(t, field["vector"], 2)
}

func TestMultiFieldKnnSearchBody(t *testing.T) {
	var got capturedRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = capturedRequest{body: decodeBody(t, r)}
		fmt.Fprint(w, searchResponse())
	})

	weights := map[string]float64{
		"input_embedding":   1,
		"output_embedding":  1,
		"summary_embedding": 4,
	}
	_, err := client.MultiFieldKnnSearch(context.Background(), "securitybooks", weights, []float32{0.5}, 3)
	require.NoError(t, err)

	should := got.body["query"].(map[string]interface{})["bool"].(map[string]interface{})["should"].([]interface{})
	require.Len(t, should, 3)

	// 每个子句都是带权重的function_score knn
	foundSummary := false
	for _, clause := range should {
		fs := clause.(map[string]interface{})["function_score"].(map[string]interface{})
		knn := fs["query"].(map[string]interface{})["knn"].(map[string]interface{})
		if _, ok := knn["summary_embedding"]; ok {
			foundSummary = true
			assert.Equal(t, float64(4), fs["weight"])
		}
	}
	assert.True(t, foundSummary)
}

func TestSearchEngineRejected(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"shards failed"}`)
	})

	_, err := client.KnnSearch(context.Background(), "documents", "output_embedding", []float32{1}, 3)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeEngineRejected))
}

func TestSnapshotCreate(t *testing.T) {
	var got capturedRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = capturedRequest{method: r.Method, path: r.URL.Path, body: decodeBody(t, r)}
		fmt.Fprint(w, `{"accepted":true}`)
	})

	err := client.SnapshotCreate(context.Background(), "backups", "nightly", []string{"documents", "mitre"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/_snapshot/backups/nightly", got.path)
	assert.Equal(t, "documents,mitre", got.body["indices"])
}

func TestSnapshotRestore(t *testing.T) {
	var got capturedRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = capturedRequest{method: r.Method, path: r.URL.Path, body: decodeBody(t, r)}
		fmt.Fprint(w, `{"accepted":true}`)
	})

	err := client.SnapshotRestore(context.Background(), "backups", "nightly", []string{"documents"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/_snapshot/backups/nightly/_restore", got.path)
}

func TestCountDocs(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"count":42}`)
	})

	n, err := client.CountDocs(context.Background(), "documents")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestBasicAuthHeader(t *testing.T) {
	var user, pass string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
	})

	_, err := client.Exists(context.Background(), "documents")
	require.NoError(t, err)
	assert.Equal(t, "admin", user)
	assert.Equal(t, "secret", pass)
}
