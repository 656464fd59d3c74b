package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		Provider    string        `yaml:"provider"`
		BaseURL     string        `yaml:"base_url"`
		APIKey      string        `yaml:"api_key"`
		Model       string        `yaml:"model"`
		MaxTokens   int           `yaml:"max_tokens"`
		Temperature *float64      `yaml:"temperature"`
		Timeout     time.Duration `yaml:"timeout"`
		RateLimit   float64       `yaml:"rate_limit"`
	} `yaml:"llm"`

	Embedder struct {
		Provider  string `yaml:"provider"`
		BaseURL   string `yaml:"base_url"`
		Model     string `yaml:"model"`
		CacheDir  string `yaml:"cache_dir"`
		Dimension int    `yaml:"dimension"`
	} `yaml:"embedder"`

	Index struct {
		Backend    string `yaml:"backend"`
		Path       string `yaml:"path"`
		Compress   bool   `yaml:"compress"`
		Collection string `yaml:"collection"`
		URL        string `yaml:"url"`
		APIKey     string `yaml:"api_key"`
		TableName  string `yaml:"table_name"`
		VectorDim  int    `yaml:"vector_dim"`
		BatchSize  int    `yaml:"batch_size"`
	} `yaml:"index"`

	Processor struct {
		ChunkSize    int `yaml:"chunk_size"`
		ChunkOverlap int `yaml:"chunk_overlap"`
	} `yaml:"processor"`

	Filter struct {
		MinBlockLength int `yaml:"min_block_length"`
		MaxBlocks      int `yaml:"max_blocks"`
		ScanWindow     int `yaml:"scan_window"`
	} `yaml:"filter"`

	Pipeline struct {
		ChatResults     int   `yaml:"chat_results"`
		QuizCandidates  int   `yaml:"quiz_candidates"`
		QuizSample      int   `yaml:"quiz_sample"`
		QuizAttempts    int   `yaml:"quiz_attempts"`
		HistoryTurns    int   `yaml:"history_turns"`
		SummaryBudget   int   `yaml:"summary_budget"`
		ReplaceOnIngest *bool `yaml:"replace_on_ingest"`
	} `yaml:"pipeline"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Server struct {
		Addr      string `yaml:"addr"`
		UploadDir string `yaml:"upload_dir"`
	} `yaml:"server"`
}

const defaultTemperature = 0.3

// Temperature returns the sampling temperature; an explicit 0 is kept.
func (c *Config) Temperature() float64 {
	if c.LLM.Temperature == nil {
		return defaultTemperature
	}
	return *c.LLM.Temperature
}

// ReplaceOnIngest reports whether re-ingesting a document replaces its chunks.
func (c *Config) ReplaceOnIngest() bool {
	return c.Pipeline.ReplaceOnIngest == nil || *c.Pipeline.ReplaceOnIngest
}

func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/studyroom/config.yaml"),
			"/etc/studyroom/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		switch config.LLM.Provider {
		case "googleai":
			config.LLM.Model = "gemma-3-1b-it"
		default:
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == nil {
		temperature := defaultTemperature
		config.LLM.Temperature = &temperature
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 60 * time.Second
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = "ollama"
	}
	if config.Embedder.Model == "" {
		switch config.Embedder.Provider {
		case "fastembed":
			config.Embedder.Model = "BAAI/bge-small-en-v1.5"
		case "ollama":
			config.Embedder.Model = "nomic-embed-text:latest"
		}
	}
	if config.Embedder.BaseURL == "" && config.Embedder.Provider == "ollama" {
		config.Embedder.BaseURL = config.LLM.BaseURL
		if config.Embedder.BaseURL == "" {
			config.Embedder.BaseURL = "http://localhost:11434"
		}
	}
	if config.Embedder.Dimension == 0 {
		switch config.Embedder.Provider {
		case "fastembed":
			config.Embedder.Dimension = 384
		default:
			config.Embedder.Dimension = 768
		}
	}

	if config.Index.Backend == "" {
		config.Index.Backend = "chromem"
	}
	if config.Index.Path == "" {
		config.Index.Path = "chroma_db"
	}
	if config.Index.Collection == "" {
		config.Index.Collection = "study_chunks"
	}
	if config.Index.TableName == "" {
		config.Index.TableName = "study_chunks"
	}
	if config.Index.VectorDim == 0 {
		config.Index.VectorDim = config.Embedder.Dimension
	}
	if config.Index.BatchSize == 0 {
		config.Index.BatchSize = 100
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 100
	}

	if config.Filter.MinBlockLength == 0 {
		config.Filter.MinBlockLength = 200
	}
	if config.Filter.MaxBlocks == 0 {
		config.Filter.MaxBlocks = 5
	}
	if config.Filter.ScanWindow == 0 {
		config.Filter.ScanWindow = 20
	}

	if config.Pipeline.ChatResults == 0 {
		config.Pipeline.ChatResults = 5
	}
	if config.Pipeline.QuizCandidates == 0 {
		config.Pipeline.QuizCandidates = 20
	}
	if config.Pipeline.QuizSample == 0 {
		config.Pipeline.QuizSample = 5
	}
	if config.Pipeline.QuizAttempts == 0 {
		config.Pipeline.QuizAttempts = 3
	}
	if config.Pipeline.HistoryTurns == 0 {
		config.Pipeline.HistoryTurns = 10
	}
	if config.Pipeline.SummaryBudget == 0 {
		config.Pipeline.SummaryBudget = 20000
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "console"
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if apiKey := os.Getenv("GOOGLE_API_KEY"); apiKey != "" && config.LLM.APIKey == "" {
		config.LLM.APIKey = apiKey
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" && config.Index.Backend == "pgvector" {
		config.Index.URL = dbURL
	}
	if qdrantURL := os.Getenv("QDRANT_URL"); qdrantURL != "" && config.Index.Backend == "qdrant" {
		config.Index.URL = qdrantURL
	}
	if path := os.Getenv("STUDYROOM_INDEX_PATH"); path != "" {
		config.Index.Path = path
	}
}
