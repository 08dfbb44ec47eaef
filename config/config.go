package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tieubaoca/paperflow/types"
)

type Config struct {
	MinerU   MinerUConfig   `mapstructure:"mineru"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Output   OutputConfig   `mapstructure:"output"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Summary  SummaryConfig  `mapstructure:"summary"`
	Decide   DecideConfig   `mapstructure:"decide"`
	Index    IndexConfig    `mapstructure:"index"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

type MinerUConfig struct {
	BaseURLs       []string            `mapstructure:"base_urls"`
	Token          string              `mapstructure:"MINERU_TOKEN"`
	TokenFile      string              `mapstructure:"token_file"`
	RequestTimeout time.Duration       `mapstructure:"request_timeout"`
	RateLimit      float64             `mapstructure:"rate_limit"`
	RateBurst      int                 `mapstructure:"rate_burst"`
	Options        types.SubmitOptions `mapstructure:"options"`
}

type PipelineConfig struct {
	ChunkSize         int           `mapstructure:"chunk_size"`
	LimitFiles        int           `mapstructure:"limit_files"`
	SkipExisting      bool          `mapstructure:"skip_existing"`
	KeepZip           bool          `mapstructure:"keep_zip"`
	SubmitRetries     int           `mapstructure:"submit_retries"`
	UploadConcurrency int           `mapstructure:"upload_concurrency"`
	UploadMethod      string        `mapstructure:"upload_method"`
	UploadRetries     RetryConfig   `mapstructure:"upload_retries"`
	DownloadRetries   RetryConfig   `mapstructure:"download_retries"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PollDeadline      time.Duration `mapstructure:"poll_deadline"`
	HookConcurrency   int           `mapstructure:"hook_concurrency"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Base        time.Duration `mapstructure:"base"`
	Cap         time.Duration `mapstructure:"cap"`
}

type OutputConfig struct {
	TextRoot  string `mapstructure:"text_root"`
	DataRoot  string `mapstructure:"data_root"`
	TempDir   string `mapstructure:"temp_dir"`
	DateDirs  bool   `mapstructure:"date_dirs"`
	LedgerDir string `mapstructure:"ledger_dir"`
}

type LedgerConfig struct {
	Backend    string `mapstructure:"backend"`
	MongoURI   string `mapstructure:"MONGODB_URI"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// LLMConfig selects the chat model used by the summary and decide hooks.
type LLMConfig struct {
	Provider     string `mapstructure:"provider"`
	BaseURL      string `mapstructure:"base_url"`
	Model        string `mapstructure:"model"`
	OpenAIAPIKey string `mapstructure:"OPENAI_API_KEY"`
	GeminiAPIKey string `mapstructure:"GEMINI_API_KEY"`

	// GeminiAPIKeys are extra keys rotated through when a call fails.
	GeminiAPIKeys []string `mapstructure:"GEMINI_API_KEYS"`
}

// GeminiKeys returns GeminiAPIKey followed by GeminiAPIKeys, without blanks
// or duplicates.
func (c LLMConfig) GeminiKeys() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, k := range append([]string{c.GeminiAPIKey}, c.GeminiAPIKeys...) {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}

type SummaryConfig struct {
	LLM          LLMConfig `mapstructure:"llm"`
	OutputRoot   string    `mapstructure:"output_root"`
	SystemPrompt string    `mapstructure:"system_prompt"`
	Example      string    `mapstructure:"example"`
}

type DecideConfig struct {
	LLM          LLMConfig `mapstructure:"llm"`
	OutputRoot   string    `mapstructure:"output_root"`
	SystemPrompt string    `mapstructure:"system_prompt"`
	MaxPageIdx   int       `mapstructure:"max_page_idx"`
}

type IndexConfig struct {
	WeaviateStoreConfig WeaviateStoreConfig `mapstructure:"weaviate_store_config"`
	MaxChunkSize        int                 `mapstructure:"max_chunk_size"`
	OverlapSize         int                 `mapstructure:"overlap_size"`
}

type WeaviateStoreConfig struct {
	Host         string       `mapstructure:"host"`
	APIKey       string       `mapstructure:"WEAVIATE_APIKEY"`
	Text2Vec     string       `mapstructure:"text2vec"`
	ModuleConfig ModuleConfig `mapstructure:"module_config"`
}

type ModuleConfig map[string]interface{}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	APIToken       string   `mapstructure:"PAPERFLOW_API_TOKEN"`
	InputRoot      string   `mapstructure:"input_root"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mineru.base_urls", []string{"https://mineru.net"})
	v.SetDefault("mineru.token_file", "config/mineru.txt")
	v.SetDefault("mineru.request_timeout", 60*time.Second)
	v.SetDefault("mineru.rate_limit", 5.0)
	v.SetDefault("mineru.rate_burst", 5)
	v.SetDefault("mineru.options.model_version", "vlm")
	v.SetDefault("mineru.options.is_ocr", false)
	v.SetDefault("mineru.options.enable_formula", true)
	v.SetDefault("mineru.options.enable_table", true)
	v.SetDefault("mineru.options.language", "ch")

	v.SetDefault("pipeline.chunk_size", 10)
	v.SetDefault("pipeline.submit_retries", 3)
	v.SetDefault("pipeline.upload_concurrency", 10)
	v.SetDefault("pipeline.upload_method", "PUT")
	v.SetDefault("pipeline.upload_retries.max_attempts", 6)
	v.SetDefault("pipeline.upload_retries.base", time.Second)
	v.SetDefault("pipeline.upload_retries.cap", 10*time.Second)
	v.SetDefault("pipeline.download_retries.max_attempts", 6)
	v.SetDefault("pipeline.download_retries.base", time.Second)
	v.SetDefault("pipeline.download_retries.cap", 10*time.Second)
	v.SetDefault("pipeline.poll_interval", 3*time.Second)
	v.SetDefault("pipeline.poll_deadline", 900*time.Second)
	v.SetDefault("pipeline.hook_concurrency", 2)

	v.SetDefault("output.text_root", "data/md")
	v.SetDefault("output.data_root", "data/json")
	v.SetDefault("output.date_dirs", true)
	v.SetDefault("output.ledger_dir", "data/ledger")

	v.SetDefault("ledger.backend", "file")
	v.SetDefault("ledger.database", "paperflow")
	v.SetDefault("ledger.collection", "outcomes")

	v.SetDefault("summary.llm.provider", "openai")
	v.SetDefault("summary.llm.base_url", "https://dashscope.aliyuncs.com/compatible-mode/v1")
	v.SetDefault("summary.llm.model", "qwen2.5-72b-instruct")
	v.SetDefault("summary.output_root", "dataSelect")
	v.SetDefault("decide.llm.provider", "openai")
	v.SetDefault("decide.llm.base_url", "https://dashscope.aliyuncs.com/compatible-mode/v1")
	v.SetDefault("decide.llm.model", "qwen-plus")
	v.SetDefault("decide.output_root", "data_output/decide")
	v.SetDefault("decide.max_page_idx", 2)

	v.SetDefault("index.weaviate_store_config.text2vec", "text2vec-transformers")
	v.SetDefault("index.max_chunk_size", 1000)
	v.SetDefault("index.overlap_size", 100)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.input_root", "data/pdf")
	v.SetDefault("log.level", "info")
}

// LoadConfig reads configPath (optional) and the environment. Secrets are only
// taken from the environment or a .env file.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("PAPERFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind environment variables
	v.BindEnv("mineru.MINERU_TOKEN", "MINERU_TOKEN")
	v.BindEnv("ledger.MONGODB_URI", "MONGODB_URI")
	v.BindEnv("summary.llm.OPENAI_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("summary.llm.GEMINI_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("decide.llm.OPENAI_API_KEY", "QWEN_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("decide.llm.GEMINI_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("summary.llm.GEMINI_API_KEYS", "GEMINI_API_KEYS")
	v.BindEnv("decide.llm.GEMINI_API_KEYS", "GEMINI_API_KEYS")
	v.BindEnv("index.weaviate_store_config.WEAVIATE_APIKEY", "WEAVIATE_APIKEY")
	v.BindEnv("server.PAPERFLOW_API_TOKEN", "PAPERFLOW_API_TOKEN")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if base := os.Getenv("MINERU_BASE_URL"); base != "" {
		config.MinerU.BaseURLs = strings.Split(base, ",")
	}

	return &config, config.Validate()
}

// Validate checks the values the pipeline cannot run without.
func (c *Config) Validate() error {
	if len(c.MinerU.BaseURLs) == 0 {
		return errors.New("mineru.base_urls must not be empty")
	}
	if c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("pipeline.chunk_size must be positive, got %d", c.Pipeline.ChunkSize)
	}
	if c.Pipeline.UploadConcurrency <= 0 {
		return fmt.Errorf("pipeline.upload_concurrency must be positive, got %d", c.Pipeline.UploadConcurrency)
	}
	if c.Pipeline.PollInterval <= 0 || c.Pipeline.PollDeadline <= 0 {
		return errors.New("pipeline.poll_interval and pipeline.poll_deadline must be positive")
	}
	switch c.Ledger.Backend {
	case "file", "mongo":
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}
	return nil
}

// ResolveToken returns the conversion service token from the environment or
// the token file.
func (c *MinerUConfig) ResolveToken() (string, error) {
	if tok := strings.TrimSpace(c.Token); tok != "" {
		return tok, nil
	}
	if c.TokenFile == "" {
		return "", errors.New("MINERU_TOKEN is not set and no token file is configured")
	}
	raw, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(raw))
	if tok == "" {
		return "", fmt.Errorf("token file %s is empty", c.TokenFile)
	}
	return tok, nil
}

// OutputDirs returns the text and data directories for date, adding a date
// sub directory when configured.
func (c *OutputConfig) OutputDirs(date time.Time) (string, string) {
	if !c.DateDirs {
		return c.TextRoot, c.DataRoot
	}
	day := date.Format(time.DateOnly)
	return filepath.Join(c.TextRoot, day), filepath.Join(c.DataRoot, day)
}
