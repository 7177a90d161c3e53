package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Kafka      KafkaConfig
	Embedding  EmbeddingConfig
	OpenSearch OpenSearchConfig
	Auth       AuthConfig
	Metrics    MetricsConfig
	DataDir    string
}

type ServerConfig struct {
	Env      string
	LogLevel string
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	// 三个逻辑端点对应的请求主题
	CreateIndexTopic    string
	QueryIndexTopic     string
	CreateSnapshotTopic string
}

// EmbeddingConfig 向量化配置
type EmbeddingConfig struct {
	// Provider 取值 local | api
	Provider          string
	ModelDir          string
	VecDim            int
	MaxTokenLengthCap int
	MinTokenLengthCap int
	LLMThreads        int

	// 远端API配置
	APIUrl   string
	APIModel string
	HFKey    string

	// ONNX输入绑定，顺序为 input_ids / attention_mask / 第三输入
	InputBindings []string
	// 第三输入的填充方式：position（位置下标）或 zeros（全零）
	ThirdInputMode string

	// uint8 输出的反量化参数，使用u8模型时必须配置
	QuantScale     float64
	QuantZeroPoint float64

	// ONNX Runtime 动态库路径，为空时使用默认查找
	OnnxLibraryPath string
}

type OpenSearchConfig struct {
	URL          string
	User         string
	Key          string
	DefaultIndex string
	// KnnEngine 映射中声明的HNSW实现，取值 nmslib | faiss
	KnnEngine string
}

type AuthConfig struct {
	EncryptKey string
}

type MetricsConfig struct {
	Enabled bool
	Addr    string
}

var appConfig *Config

// LoadConfig 加载配置，环境变量优先于配置文件
func LoadConfig() (*Config, error) {
	// .env 文件可选，用于本地开发
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	bindEnvOverrides()

	cfg := &Config{
		Server: ServerConfig{
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.logLevel"),
		},
		Kafka: KafkaConfig{
			Brokers:             viper.GetStringSlice("kafka.brokers"),
			GroupID:             viper.GetString("kafka.groupId"),
			CreateIndexTopic:    viper.GetString("kafka.createIndexTopic"),
			QueryIndexTopic:     viper.GetString("kafka.queryIndexTopic"),
			CreateSnapshotTopic: viper.GetString("kafka.createSnapshotTopic"),
		},
		Embedding: EmbeddingConfig{
			Provider:          viper.GetString("embeddingProvider"),
			ModelDir:          viper.GetString("embeddingModelDir"),
			VecDim:            viper.GetInt("embeddingModelVecDim"),
			MaxTokenLengthCap: viper.GetInt("maxTokenLengthCap"),
			MinTokenLengthCap: viper.GetInt("minTokenLengthCap"),
			LLMThreads:        viper.GetInt("llmThreads"),
			APIUrl:            viper.GetString("embeddingApiUrl"),
			APIModel:          viper.GetString("embeddingApiModel"),
			HFKey:             viper.GetString("llmHFKey"),
			InputBindings:     viper.GetStringSlice("embedding.inputBindings"),
			ThirdInputMode:    viper.GetString("embedding.thirdInputMode"),
			QuantScale:        viper.GetFloat64("embedding.quant.scale"),
			QuantZeroPoint:    viper.GetFloat64("embedding.quant.zeroPoint"),
			OnnxLibraryPath:   viper.GetString("embedding.onnxLibraryPath"),
		},
		OpenSearch: OpenSearchConfig{
			URL:          viper.GetString("openSearchUrl"),
			User:         viper.GetString("openSearchUser"),
			Key:          viper.GetString("openSearchKey"),
			DefaultIndex: viper.GetString("openSearchDefaultIndex"),
			KnnEngine:    viper.GetString("openSearch.knnEngine"),
		},
		Auth: AuthConfig{
			EncryptKey: viper.GetString("auth.encryptKey"),
		},
		Metrics: MetricsConfig{
			Enabled: viper.GetBool("metrics.enabled"),
			Addr:    viper.GetString("metrics.addr"),
		},
		DataDir: viper.GetString("dataDir"),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	appConfig = cfg
	return cfg, nil
}

// GetAppConfig 获取全局配置实例
func GetAppConfig() *Config {
	return appConfig
}

func setDefaults() {
	viper.SetDefault("server.env", "production")
	viper.SetDefault("server.logLevel", "info")
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.groupId", "vector-index")
	viper.SetDefault("kafka.createIndexTopic", "createIndex")
	viper.SetDefault("kafka.queryIndexTopic", "queryIndex")
	viper.SetDefault("kafka.createSnapshotTopic", "createSnapshot")
	viper.SetDefault("embeddingProvider", "local")
	viper.SetDefault("embeddingModelVecDim", 128)
	viper.SetDefault("maxTokenLengthCap", 512)
	viper.SetDefault("minTokenLengthCap", 64)
	viper.SetDefault("llmThreads", 4)
	viper.SetDefault("embedding.inputBindings", []string{"input_ids", "attention_mask", "token_type_ids"})
	viper.SetDefault("embedding.thirdInputMode", "zeros")
	viper.SetDefault("openSearchUrl", "https://localhost:9200")
	viper.SetDefault("openSearch.knnEngine", "nmslib")
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.addr", ":9108")
	viper.SetDefault("dataDir", "./data")
}

func bindEnvOverrides() {
	if env := os.Getenv("ENV"); env != "" {
		viper.Set("server.env", env)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		viper.Set("server.logLevel", level)
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		viper.Set("kafka.brokers", strings.Split(brokers, ","))
	}
	if url := os.Getenv("OPENSEARCH_URL"); url != "" {
		viper.Set("openSearchUrl", url)
	}
	if user := os.Getenv("OPENSEARCH_USER"); user != "" {
		viper.Set("openSearchUser", user)
	}
	if key := os.Getenv("OPENSEARCH_KEY"); key != "" {
		viper.Set("openSearchKey", key)
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		viper.Set("dataDir", dir)
	}
	if provider := os.Getenv("EMBEDDING_PROVIDER"); provider != "" {
		viper.Set("embeddingProvider", provider)
	}
	if modelDir := os.Getenv("EMBEDDING_MODEL_DIR"); modelDir != "" {
		viper.Set("embeddingModelDir", modelDir)
	}
	if hfKey := os.Getenv("LLM_HF_KEY"); hfKey != "" {
		viper.Set("llmHFKey", hfKey)
	}
	if encryptKey := os.Getenv("AUTH_ENCRYPT_KEY"); encryptKey != "" {
		viper.Set("auth.encryptKey", encryptKey)
	}
}

func validate(cfg *Config) error {
	if cfg.Embedding.Provider != "local" && cfg.Embedding.Provider != "api" {
		return fmt.Errorf("embeddingProvider 取值无效: %s", cfg.Embedding.Provider)
	}
	if cfg.Embedding.MinTokenLengthCap <= 0 || cfg.Embedding.MaxTokenLengthCap < cfg.Embedding.MinTokenLengthCap {
		return fmt.Errorf("token长度上下限配置无效: min=%d max=%d",
			cfg.Embedding.MinTokenLengthCap, cfg.Embedding.MaxTokenLengthCap)
	}
	if cfg.Embedding.VecDim <= 0 {
		return fmt.Errorf("embeddingModelVecDim 必须为正数")
	}
	return nil
}
