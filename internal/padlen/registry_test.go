package padlen

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutThenGet(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)

	require.NoError(t, r.Put("documents", Record{PadToTokens: 192, ActualMaxTokens: 180}))

	rec, ok := r.Get("documents")
	require.True(t, ok)
	assert.Equal(t, 192, rec.PadToTokens)
	assert.Equal(t, 180, rec.ActualMaxTokens)

	// 文件同时落盘
	_, err := os.Stat(filepath.Join(dir, "index_config", "documents_padtokens.json"))
	assert.NoError(t, err)
}

func TestGetMissing(t *testing.T) {
	r := NewRegistry(t.TempDir())

	_, ok := r.Get("unknown")
	assert.False(t, ok)
}

func TestGetSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	first := NewRegistry(dir)
	require.NoError(t, first.Put("documents", Record{PadToTokens: 192, ActualMaxTokens: 180}))

	// 新实例模拟进程重启，只能依赖磁盘文件
	second := NewRegistry(dir)
	rec, ok := second.Get("documents")
	require.True(t, ok)
	assert.Equal(t, 192, rec.PadToTokens)
}

func TestFileDeletionEvictsCache(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)
	require.NoError(t, r.Put("documents", Record{PadToTokens: 128, ActualMaxTokens: 100}))

	require.NoError(t, os.Remove(filepath.Join(dir, "index_config", "documents_padtokens.json")))

	// 删除文件后内存项不再可信
	_, ok := r.Get("documents")
	assert.False(t, ok)
}

func TestCorruptFileTreatedAsMissing(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)
	cfgDir := filepath.Join(dir, "index_config")
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "documents_padtokens.json"), []byte("{bad"), 0o644))

	_, ok := r.Get("documents")
	assert.False(t, ok)
}
