// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Log        LogConfig        `mapstructure:"log"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Chunking   ChunkingConfig   `mapstructure:"chunking"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Chat       ChatConfig       `mapstructure:"chat"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Seed       SeedConfig       `mapstructure:"seed"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储管理端 JWT 的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储向量化重试队列的配置。
type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// OpenAIConfig 存储 AI 服务提供方相关的配置。
type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	AssistantID    string `mapstructure:"assistant_id"`
	AssistantName  string `mapstructure:"assistant_name"`
	AssistantModel string `mapstructure:"assistant_model"`
	Instructions   string `mapstructure:"instructions"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	EmbeddingBatch int    `mapstructure:"embedding_batch"`
}

// ChunkingConfig 控制文本切块。
type ChunkingConfig struct {
	Encoding        string `mapstructure:"encoding"`
	MaxTokens       int    `mapstructure:"max_tokens"`
	ModerationSplit int    `mapstructure:"moderation_split"`
}

// RetrievalConfig 控制相似度检索与上下文打包。
type RetrievalConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	ContextBudget       int     `mapstructure:"context_budget"`
	MaxChunks           int64   `mapstructure:"max_chunks"`
}

// ModerationConfig 控制内容审核阈值与缓存。
type ModerationConfig struct {
	CacheTTL   time.Duration      `mapstructure:"cache_ttl"`
	Thresholds map[string]float64 `mapstructure:"thresholds"`
}

// ChatConfig 控制对话轮询与缓存。
type ChatConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	QueryCacheTTL time.Duration `mapstructure:"query_cache_ttl"`
	HistoryLimit  int           `mapstructure:"history_limit"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
}

// AdminConfig 是启动时确保存在的管理员账号。
type AdminConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SeedConfig 指定启动时导入的知识条目目录，为空则不导入。
type SeedConfig struct {
	Dir string `mapstructure:"dir"`
}

// DefaultThresholds 是各审核类别的默认阈值（0~1）。
func DefaultThresholds() map[string]float64 {
	return map[string]float64{
		"sexual":                 0.80,
		"hate":                   0.70,
		"harassment":             0.70,
		"self-harm":              0.50,
		"sexual/minors":          0.50,
		"hate/threatening":       0.60,
		"violence/graphic":       0.80,
		"self-harm/intent":       0.50,
		"self-harm/instructions": 0.50,
		"harassment/threatening": 0.60,
		"violence":               0.70,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("jwt.refresh_token_expire_days", 7)
	v.SetDefault("kafka.topic", "sitechat-embedding")
	v.SetDefault("kafka.group_id", "sitechat-go-consumer")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.assistant_name", "Site Chat Assistant")
	v.SetDefault("openai.assistant_model", "gpt-3.5-turbo-0125")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.embedding_batch", 16)
	v.SetDefault("chunking.encoding", "cl100k_base")
	v.SetDefault("chunking.max_tokens", 1000)
	v.SetDefault("chunking.moderation_split", 2000)
	v.SetDefault("retrieval.similarity_threshold", 0.4)
	v.SetDefault("retrieval.context_budget", 2000)
	v.SetDefault("retrieval.max_chunks", 500)
	v.SetDefault("moderation.cache_ttl", time.Minute)
	v.SetDefault("chat.poll_interval", 2*time.Second)
	v.SetDefault("chat.query_cache_ttl", time.Minute)
	v.SetDefault("chat.history_limit", 20)
	v.SetDefault("chat.session_ttl", 7*24*time.Hour)
	v.SetDefault("admin.username", "admin")
}

// Load 从指定路径读取 YAML 配置，环境变量（如 OPENAI_API_KEY）优先。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}

	// 配置文件只需覆盖需要调整的类别，其余沿用默认阈值
	thresholds := DefaultThresholds()
	for k, t := range cfg.Moderation.Thresholds {
		thresholds[k] = t
	}
	cfg.Moderation.Thresholds = thresholds

	return &cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}
