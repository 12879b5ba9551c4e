package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mdad-elec/cv-analysis-system/internal/logger"
)

// Config 应用程序配置
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	OCR       OCRConfig       `yaml:"ocr"`
	Retry     RetryConfig     `yaml:"retry"`
	Query     QueryConfig     `yaml:"query"`
	Upload    UploadConfig    `yaml:"upload"`
	Server    ServerConfig    `yaml:"server"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	MinIO     MinIOConfig     `yaml:"minio"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Logger    logger.Config   `yaml:"logger"`
}

// LLMConfig 生成式模型配置
type LLMConfig struct {
	Provider       string  `yaml:"provider" validate:"oneof=openai gemini"` // openai（兼容接口）或 gemini
	APIKey         string  `yaml:"api_key"`
	APIURL         string  `yaml:"api_url"`
	Model          string  `yaml:"model" validate:"required"`
	Temperature    float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	ParseMaxTokens int     `yaml:"parse_max_tokens" validate:"gt=0"`
	QueryMaxTokens int     `yaml:"query_max_tokens" validate:"gt=0"`
	Timeout        string  `yaml:"timeout"` // 单次调用超时
	QPM            int     `yaml:"qpm" validate:"gte=0"`
}

// EmbeddingConfig 嵌入模型配置
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions" validate:"gte=0"`
}

// OCRConfig OCR 回退配置
type OCRConfig struct {
	Enabled          bool   `yaml:"enabled"`
	PdftoppmPath     string `yaml:"pdftoppm_path"`
	TesseractPath    string `yaml:"tesseract_path"`
	DPI              int    `yaml:"dpi" validate:"gt=0"`
	PSM              int    `yaml:"psm"`
	OEM              int    `yaml:"oem"`
	Languages        string `yaml:"languages"`
	QualityThreshold int    `yaml:"quality_threshold" validate:"gte=0"` // 直接抽取字符数不超过该值时触发 OCR
	PreferLonger     *bool  `yaml:"prefer_longer"`                      // OCR 更短时保留直接抽取结果
	Workers          int    `yaml:"workers" validate:"gte=0"`
}

// RetryConfig 模型调用重试配置
type RetryConfig struct {
	Attempts  int    `yaml:"attempts" validate:"gt=0"`
	BaseDelay string `yaml:"base_delay"`
	MaxDelay  string `yaml:"max_delay"`
}

// QueryConfig 问答配置
type QueryConfig struct {
	TopK int `yaml:"top_k" validate:"gt=0"`
}

// UploadConfig 上传限制
type UploadConfig struct {
	MaxSizeMB    int      `yaml:"max_size_mb" validate:"gt=0"`
	AllowedTypes []string `yaml:"allowed_types"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Address string `yaml:"address"`
	APIKey  string `yaml:"api_key"` // 为空时不启用鉴权
}

// MySQLConfig MySQL数据库配置
type MySQLConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 秒
	LogLevel        int    `yaml:"log_level"`         // 1=Silent 2=Error 3=Warn 4=Info
	DSN             string `yaml:"dsn"`               // 非空时优先使用
}

// RedisConfig Redis配置
type RedisConfig struct {
	Address             string `yaml:"address"`
	Password            string `yaml:"password"`
	DB                  int    `yaml:"db"`
	PoolSize            int    `yaml:"pool_size"`
	MinIdleConns        int    `yaml:"min_idle_conns"`
	DialTimeout         int    `yaml:"dial_timeout"`  // 秒
	ReadTimeout         int    `yaml:"read_timeout"`  // 秒
	WriteTimeout        int    `yaml:"write_timeout"` // 秒
	MaxRetries          int    `yaml:"max_retries"`
	QueryTTL            string `yaml:"query_ttl"`
	MD5RecordExpireDays int    `yaml:"md5_record_expire_days"`
}

// MinIOConfig MinIO配置
type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	BucketName      string `yaml:"bucket_name"`
	Location        string `yaml:"location"`
	ExpireDays      int    `yaml:"expire_days"` // 原始文件保留天数，0 表示不过期
}

// RabbitMQConfig RabbitMQ配置
type RabbitMQConfig struct {
	URL           string `yaml:"url"`
	Exchange      string `yaml:"exchange"`
	Queue         string `yaml:"queue"`
	RoutingKey    string `yaml:"routing_key"`
	PrefetchCount int    `yaml:"prefetch_count"`
	Workers       int    `yaml:"workers"`
}

// QdrantConfig Qdrant配置
type QdrantConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Collection string `yaml:"collection"`
	Dimension  int    `yaml:"dimension"`
}

// TracingConfig OpenTelemetry 配置
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"` // OTLP gRPC 地址
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

var validate = validator.New()

// 默认搜索路径，按顺序查找
func defaultSearchPaths() []string {
	paths := []string{
		"config.yaml",
		filepath.Join("configs", "config.yaml"),
		filepath.Join("..", "config.yaml"),
	}
	if execPath, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(execPath), "config.yaml"))
	}
	return paths
}

// LoadConfig 加载配置：文件（可选）→ .env / 环境变量覆盖 → 默认值 → 校验
// configPath 为空时依次尝试 CV_CONFIG 与默认搜索路径；都找不到时仅使用默认值
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	if configPath == "" {
		configPath = os.Getenv("CV_CONFIG")
	}
	if configPath == "" {
		for _, path := range defaultSearchPaths() {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}

	config := &Config{}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	applyEnvOverrides(config)
	applyDefaults(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigFromFileOnly 仅从指定文件加载，不读取环境变量
func LoadConfigFromFileOnly(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	applyDefaults(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate 校验配置字段
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("配置校验失败: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("配置校验失败: %w", err)
	}
	return nil
}

func applyEnvOverrides(c *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.APIKey, "LLM_API_KEY")
	setString(&c.LLM.APIURL, "LLM_API_URL")
	setString(&c.LLM.Model, "LLM_MODEL")
	if c.LLM.Provider == "gemini" {
		setString(&c.LLM.APIKey, "GEMINI_API_KEY")
	}
	setString(&c.Embedding.APIKey, "EMBEDDING_API_KEY")
	setString(&c.MySQL.DSN, "MYSQL_DSN")
	setString(&c.Redis.Address, "REDIS_ADDR")
	setString(&c.Server.APIKey, "SERVER_API_KEY")

	if v := os.Getenv("OCR_QUALITY_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.OCR.QualityThreshold = n
		}
	}
}

func applyDefaults(c *Config) {
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "qwen-plus"
	}
	if c.LLM.ParseMaxTokens == 0 {
		c.LLM.ParseMaxTokens = 4000
	}
	if c.LLM.QueryMaxTokens == 0 {
		c.LLM.QueryMaxTokens = 1500
	}
	if c.LLM.Timeout == "" {
		c.LLM.Timeout = "60s"
	}

	if c.OCR.PdftoppmPath == "" {
		c.OCR.PdftoppmPath = "pdftoppm"
	}
	if c.OCR.TesseractPath == "" {
		c.OCR.TesseractPath = "tesseract"
	}
	if c.OCR.DPI == 0 {
		c.OCR.DPI = 300
	}
	if c.OCR.PSM == 0 {
		c.OCR.PSM = 6
	}
	if c.OCR.OEM == 0 {
		c.OCR.OEM = 3
	}
	if c.OCR.Languages == "" {
		c.OCR.Languages = "eng+osd"
	}
	if c.OCR.QualityThreshold == 0 {
		c.OCR.QualityThreshold = 200
	}
	if c.OCR.PreferLonger == nil {
		preferLonger := true
		c.OCR.PreferLonger = &preferLonger
	}
	if c.OCR.Workers == 0 {
		c.OCR.Workers = 4
	}

	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = 3
	}
	if c.Retry.BaseDelay == "" {
		c.Retry.BaseDelay = "4s"
	}
	if c.Retry.MaxDelay == "" {
		c.Retry.MaxDelay = "10s"
	}

	if c.Query.TopK == 0 {
		c.Query.TopK = 30
	}
	if c.Upload.MaxSizeMB == 0 {
		c.Upload.MaxSizeMB = 10
	}
	if len(c.Upload.AllowedTypes) == 0 {
		c.Upload.AllowedTypes = []string{"pdf", "docx", "html"}
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080" // 默认服务器地址
	}
	if c.Redis.QueryTTL == "" {
		c.Redis.QueryTTL = "1h"
	}
	if c.Redis.MD5RecordExpireDays == 0 {
		c.Redis.MD5RecordExpireDays = 30
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "cv.direct"
	}
	if c.RabbitMQ.Queue == "" {
		c.RabbitMQ.Queue = "cv.ingest"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "cv.uploaded"
	}
	if c.RabbitMQ.PrefetchCount == 0 {
		c.RabbitMQ.PrefetchCount = 4
	}
	if c.RabbitMQ.Workers == 0 {
		c.RabbitMQ.Workers = 2
	}
	if c.Qdrant.Collection == "" {
		c.Qdrant.Collection = "cv_profiles"
	}
	if c.Qdrant.Dimension == 0 {
		c.Qdrant.Dimension = c.Embedding.Dimensions
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "cv-analysis-system"
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
}

// Default 返回只包含默认值的配置
func Default() *Config {
	c := &Config{}
	applyDefaults(c)
	return c
}

// CreateSampleConfig 生成带默认值的示例配置文件
func CreateSampleConfig(filePath string) error {
	config := &Config{}
	applyDefaults(config)
	config.LLM.APIURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	config.Embedding.Model = "text-embedding-v3"
	config.Embedding.Dimensions = 1024
	config.OCR.Enabled = true

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("序列化示例配置失败: %w", err)
	}
	return os.WriteFile(filePath, data, 0o644)
}

// PreferLongerText OCR 更短时是否保留直接抽取结果
func (c OCRConfig) PreferLongerText() bool {
	return c.PreferLonger == nil || *c.PreferLonger
}

// MaxUploadBytes 上传大小上限（字节）
func (c UploadConfig) MaxUploadBytes() int64 {
	return int64(c.MaxSizeMB) << 20
}

// GetDuration 解析时长字符串，失败时返回默认值
func GetDuration(durationStr string, defaultDuration time.Duration) time.Duration {
	if durationStr == "" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return defaultDuration
	}
	return d
}
