package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Index     IndexConfig     `mapstructure:"index"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Access    AccessConfig    `mapstructure:"access"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Source    SourceConfig    `mapstructure:"source"`
	Milvus    MilvusConfig    `mapstructure:"milvus"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	ReadTimeout   int    `mapstructure:"readTimeout"`
	WriteTimeout  int    `mapstructure:"writeTimeout"`
	BodyLimit     int    `mapstructure:"bodyLimit"`
	RatePerMinute int    `mapstructure:"ratePerMinute"`
	Development   bool   `mapstructure:"development"`
}

type IndexConfig struct {
	Name      string `mapstructure:"name"`
	Dimension int    `mapstructure:"dimension"`
	Metric    string `mapstructure:"metric"`
	Backend   string `mapstructure:"backend"`
}

type ChunkingConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

type ChatConfig struct {
	DefaultEngine string `mapstructure:"engine"`
	DefaultUser   string `mapstructure:"user"`
	StripHTML     bool   `mapstructure:"stripHTML"`
}

type AccessConfig struct {
	Threshold          float64 `mapstructure:"threshold"`
	ClassifierFunction string  `mapstructure:"classifierFunction"`
}

type RetrievalConfig struct {
	K int `mapstructure:"k"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
}

// SourceConfig controls where transcripts may be read from. LocalRoot enables
// file:// URIs and bare paths below that directory; empty means S3 only.
type SourceConfig struct {
	LocalRoot string `mapstructure:"localRoot"`
}

type MilvusConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"apiKey"`
}

type LLMConfig struct {
	APIKey     string `mapstructure:"apiKey"`
	BaseURL    string `mapstructure:"baseURL"`
	Model      string `mapstructure:"model"`
	MaxTokens  int    `mapstructure:"maxTokens"`
	TimeoutSec int    `mapstructure:"timeoutSec"`
}

type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"apiKey"`
	BaseURL    string `mapstructure:"baseURL"`
	TimeoutSec int    `mapstructure:"timeoutSec"`
	CacheTTL   int    `mapstructure:"cacheTTL"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// envBindings maps config keys to the unprefixed environment variables the
// deployment already uses. Later names are fallbacks.
var envBindings = map[string][]string{
	"index.name":                {"INDEX_NAME", "PINECONE_INDEX"},
	"index.dimension":           {"EMBEDDING_DIMENSION"},
	"index.metric":              {"METRIC"},
	"index.backend":             {"VECTOR_BACKEND"},
	"chunking.size":             {"CHUNK_SIZE"},
	"chunking.overlap":          {"CHUNK_OVERLAP"},
	"chat.engine":               {"CHAT_ENGINE"},
	"chat.user":                 {"CHAT_USER"},
	"chat.stripHTML":            {"STRIP_HTML"},
	"access.threshold":          {"ACCESS_THRESHOLD"},
	"access.classifierFunction": {"CLASSIFIER_FUNCTION"},
	"retrieval.k":               {"RETRIEVAL_K"},
	"aws.region":                {"AWS_REGION"},
	"source.localRoot":          {"LOCAL_SOURCE_ROOT"},
	"milvus.endpoint":           {"MILVUS_ENDPOINT"},
	"milvus.apiKey":             {"MILVUS_API_KEY"},
	"llm.apiKey":                {"LLM_API_KEY", "GROQ_API_KEY"},
	"llm.baseURL":               {"LLM_BASE_URL"},
	"llm.model":                 {"LLM_MODEL"},
	"embedding.provider":        {"EMBEDDING_PROVIDER"},
	"embedding.model":           {"EMBEDDING_MODEL"},
	"embedding.apiKey":          {"EMBEDDING_API_KEY", "GOOGLE_API_KEY"},
	"sqlite.path":               {"SQLITE_PATH"},
	"redis.enabled":             {"REDIS_ENABLED"},
	"redis.host":                {"REDIS_HOST"},
	"redis.port":                {"REDIS_PORT"},
	"logging.level":             {"LOG_LEVEL"},
	"logging.format":            {"LOG_FORMAT"},
}

func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/chatrag")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("CHATRAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Chunking.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", c.Chunking.Size))
	}
	if c.Chunking.Overlap <= 0 {
		errs = append(errs, fmt.Errorf("chunk overlap must be positive, got %d", c.Chunking.Overlap))
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d",
			c.Chunking.Overlap, c.Chunking.Size))
	}
	if c.Index.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding dimension must be positive, got %d", c.Index.Dimension))
	}
	if c.Access.Threshold <= 0 || c.Access.Threshold > 1 {
		errs = append(errs, fmt.Errorf("access threshold must be in (0,1], got %v", c.Access.Threshold))
	}
	if c.Retrieval.K <= 0 {
		errs = append(errs, fmt.Errorf("retrieval k must be positive, got %d", c.Retrieval.K))
	}
	switch c.Index.Backend {
	case "milvus", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown vector backend %q", c.Index.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.ratePerMinute", 60)
	v.SetDefault("server.development", false)

	v.SetDefault("index.name", "chat-transcripts")
	v.SetDefault("index.dimension", 768)
	v.SetDefault("index.metric", "cosine")
	v.SetDefault("index.backend", "milvus")

	v.SetDefault("chunking.size", 150)
	v.SetDefault("chunking.overlap", 30)

	v.SetDefault("chat.engine", "")
	v.SetDefault("chat.user", "")
	v.SetDefault("chat.stripHTML", false)

	v.SetDefault("access.threshold", 0.9)
	v.SetDefault("access.classifierFunction", "ConversationAccess-Json-UAT")

	v.SetDefault("retrieval.k", 10)

	v.SetDefault("aws.region", "us-east-1")

	v.SetDefault("source.localRoot", "")

	v.SetDefault("milvus.endpoint", "localhost:19530")
	v.SetDefault("milvus.apiKey", "")

	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.model", "openai/gpt-oss-120b")
	v.SetDefault("llm.maxTokens", 2048)
	v.SetDefault("llm.timeoutSec", 60)

	v.SetDefault("embedding.provider", "googleai")
	v.SetDefault("embedding.model", "text-embedding-004")
	v.SetDefault("embedding.apiKey", "")
	v.SetDefault("embedding.baseURL", "")
	v.SetDefault("embedding.timeoutSec", 30)
	v.SetDefault("embedding.cacheTTL", 3600)

	v.SetDefault("sqlite.path", "./data/chatrag.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
