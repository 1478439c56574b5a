package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultServerPort       = "8899"
	defaultQueueBackend     = "rocketmq"
	defaultConsumeGroup     = "cg_knowledge_base"
	defaultIndexBatchSize   = 1000
	defaultEmbedBatchSize   = 10
	defaultChunkSize        = 1000
	defaultDrainTimeout     = 5 * time.Minute
	defaultDownloadDir      = "./download"
	defaultLogFile          = "./logs/knowledge-base.log"
	defaultMaxReconsume     = 5
	defaultEmbeddingTimeout = 60 * time.Second
	defaultTokenTTL         = 24 * time.Hour
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	JWT       JWTConfig       `yaml:"jwt"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	MQ        MQConfig        `yaml:"mq"`
	OSS       OSSConfig       `yaml:"oss"`
	Milvus    MilvusConfig    `yaml:"milvus"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port string `yaml:"port"`

	// 为空时允许所有来源
	AllowOrigins []string `yaml:"allow_origins"`
}

type JWTConfig struct {
	SecretKey string        `yaml:"secret_key"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

type MQConfig struct {
	// rocketmq 或 memory，memory 仅用于单进程部署
	Backend           string `yaml:"backend"`
	NameServer        string `yaml:"name_server"`
	GroupName         string `yaml:"group_name"`
	MaxReconsumeTimes int32  `yaml:"max_reconsume_times"`
}

type OSSConfig struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`
	BucketName      string `yaml:"bucket_name"`
}

type MilvusConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type EmbeddingConfig struct {
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
	Models    []ModelConfig `yaml:"models"`
}

// ModelConfig 一个可用的 embedding 模型
type ModelConfig struct {
	Name string `yaml:"name"`

	// openai（兼容 OpenAI 接口的服务）或 ollama
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Dimension int    `yaml:"dimension"`
}

type PipelineConfig struct {
	IndexBatchSize   int           `yaml:"index_batch_size"`
	DefaultChunkSize int           `yaml:"default_chunk_size"`
	Consumers        int           `yaml:"consumers"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
	DownloadDir      string        `yaml:"download_dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load 读取 .env 与 YAML 配置文件，YAML 中的 ${VAR} 使用环境变量替换
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "err", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = defaultServerPort
	}
	if c.JWT.TokenTTL <= 0 {
		c.JWT.TokenTTL = defaultTokenTTL
	}
	if c.MQ.Backend == "" {
		c.MQ.Backend = defaultQueueBackend
	}
	if c.MQ.GroupName == "" {
		c.MQ.GroupName = defaultConsumeGroup
	}
	if c.MQ.MaxReconsumeTimes == 0 {
		c.MQ.MaxReconsumeTimes = defaultMaxReconsume
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = defaultEmbedBatchSize
	}
	if c.Embedding.Timeout <= 0 {
		c.Embedding.Timeout = defaultEmbeddingTimeout
	}
	for i := range c.Embedding.Models {
		if c.Embedding.Models[i].Provider == "" {
			c.Embedding.Models[i].Provider = "openai"
		}
	}
	if c.Pipeline.IndexBatchSize <= 0 {
		c.Pipeline.IndexBatchSize = defaultIndexBatchSize
	}
	if c.Pipeline.DefaultChunkSize <= 0 {
		c.Pipeline.DefaultChunkSize = defaultChunkSize
	}
	if c.Pipeline.Consumers <= 0 {
		c.Pipeline.Consumers = 1
	}
	if c.Pipeline.DrainTimeout <= 0 {
		c.Pipeline.DrainTimeout = defaultDrainTimeout
	}
	if c.Pipeline.DownloadDir == "" {
		c.Pipeline.DownloadDir = defaultDownloadDir
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.File == "" {
		c.Log.File = defaultLogFile
	}
}

func (c *Config) Validate() error {
	switch c.MQ.Backend {
	case "memory":
	case "rocketmq":
		if c.MQ.NameServer == "" {
			return errors.New("mq.name_server is required for the rocketmq backend")
		}
	default:
		return fmt.Errorf("unsupported mq backend: %s", c.MQ.Backend)
	}

	seen := make(map[string]bool)
	for _, m := range c.Embedding.Models {
		if m.Name == "" {
			return errors.New("embedding model name is required")
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate embedding model: %s", m.Name)
		}
		seen[m.Name] = true

		if m.Dimension <= 0 {
			return fmt.Errorf("embedding model %s: dimension must be positive", m.Name)
		}
		if m.Provider != "openai" && m.Provider != "ollama" {
			return fmt.Errorf("embedding model %s: unsupported provider %s", m.Name, m.Provider)
		}
	}
	return nil
}

// FindModel 按名称查找 embedding 模型配置
func (c *Config) FindModel(name string) (ModelConfig, bool) {
	return c.Embedding.FindModel(name)
}

func (c EmbeddingConfig) FindModel(name string) (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelConfig{}, false
}
