package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/aihub/vector-index-go/internal/config"
	"github.com/aihub/vector-index-go/internal/embedding"
	"github.com/aihub/vector-index-go/internal/logger"
	"github.com/aihub/vector-index-go/internal/tokenizer"
)

// 调试工具：对单条文本做向量化并输出 {text, embedding} JSON
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "用法: mkembed \"要向量化的文本\" [输出文件]")
		os.Exit(1)
	}
	text := os.Args[1]

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := logger.InitLogger(cfg); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	tk, err := tokenizer.NewTokenizer(cfg.Embedding.ModelDir)
	if err != nil {
		log.Fatalf("加载分词器失败: %v", err)
	}

	provider, err := embedding.NewProvider(cfg, tk)
	if err != nil {
		log.Fatalf("创建Provider失败: %v", err)
	}
	defer provider.Close()

	vec, err := provider.Embed(context.Background(), text, cfg.Embedding.MinTokenLengthCap, false)
	if err != nil {
		log.Fatalf("向量化失败: %v", err)
	}

	out := map[string]interface{}{
		"text":      text,
		"embedding": vec,
	}
	data, err := json.Marshal(out)
	if err != nil {
		log.Fatalf("序列化失败: %v", err)
	}

	target := "query_embedding.json"
	if len(os.Args) > 2 {
		target = os.Args[2]
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		log.Fatalf("写入 %s 失败: %v", target, err)
	}
	fmt.Printf("向量已写入 %s（维度 %d）\n", target, len(vec))
}
