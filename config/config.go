package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           string `json:"port" yaml:"port"`
	AllowedOrigins string `json:"allowed_origins" yaml:"allowed_origins"`
	DataRoot       string `json:"data_root" yaml:"data_root"`

	// Storage backend: memory, pgvector or milvus.
	Store            string `json:"store" yaml:"store"`
	PostgresURL      string `json:"postgres_url" yaml:"postgres_url"`
	MilvusAddr       string `json:"milvus_addr" yaml:"milvus_addr"`
	MilvusUsername   string `json:"milvus_username" yaml:"milvus_username"`
	MilvusPassword   string `json:"milvus_password" yaml:"milvus_password"`
	MilvusAPIKey     string `json:"milvus_api_key" yaml:"milvus_api_key"`
	MilvusCollection string `json:"milvus_collection" yaml:"milvus_collection"`

	// Progress relay across processes; empty disables it.
	RedisAddr    string `json:"redis_addr" yaml:"redis_addr"`
	RedisChannel string `json:"redis_channel" yaml:"redis_channel"`

	// Embeddings: openai or onnx.
	EmbedProvider     string `json:"embed_provider" yaml:"embed_provider"`
	APIKey            string `json:"api_key" yaml:"api_key"`
	BaseURL           string `json:"base_url" yaml:"base_url"`
	EmbeddingModel    string `json:"embedding_model" yaml:"embedding_model"`
	EmbeddingDim      int    `json:"embedding_dim" yaml:"embedding_dim"`
	EmbedBatchSize    int    `json:"embed_batch_size" yaml:"embed_batch_size"`
	EmbedConcurrency  int    `json:"embed_concurrency" yaml:"embed_concurrency"`
	EmbedRPM          int    `json:"embed_rpm" yaml:"embed_rpm"`
	ONNXModelPath     string `json:"onnx_model_path" yaml:"onnx_model_path"`
	ONNXTokenizerPath string `json:"onnx_tokenizer_path" yaml:"onnx_tokenizer_path"`
	ONNXLibraryPath   string `json:"onnx_library_path" yaml:"onnx_library_path"`

	// Transcription: openai or whisper (local script).
	TranscribeProvider string `json:"transcribe_provider" yaml:"transcribe_provider"`
	WhisperModel       string `json:"whisper_model" yaml:"whisper_model"`
	WhisperCommand     string `json:"whisper_command" yaml:"whisper_command"`

	ChatModel string `json:"chat_model" yaml:"chat_model"`

	FFmpegPath  string `json:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath string `json:"ffprobe_path" yaml:"ffprobe_path"`

	MaxDurationSec float64 `json:"max_duration_sec" yaml:"max_duration_sec"`
	ChunkWindowSec float64 `json:"chunk_window_sec" yaml:"chunk_window_sec"`
	ChatTopK       int     `json:"chat_top_k" yaml:"chat_top_k"`
	ProgressBuffer int     `json:"progress_buffer" yaml:"progress_buffer"`
}

// Load reads configuration from path (JSON or YAML by extension), applies
// environment overrides and fills defaults. A missing file is not an error.
// An empty path tries config.json then config.yaml in the working directory.
func Load(path string) (*Config, error) {
	// .env is a convenience for local runs; production injects real env vars.
	_ = godotenv.Load()

	cfg := &Config{}
	if path == "" {
		for _, candidate := range []string{"config.json", "config.yaml", "config.yml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := readFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) {
	setString(&c.Port, "PORT")
	setString(&c.AllowedOrigins, "ALLOWED_ORIGINS")
	setString(&c.DataRoot, "DATA_ROOT")
	setString(&c.Store, "STORE")
	setString(&c.PostgresURL, "POSTGRES_URL")
	setString(&c.PostgresURL, "DATABASE_URL")
	setString(&c.MilvusAddr, "MILVUS_ADDR")
	setString(&c.MilvusUsername, "MILVUS_USERNAME")
	setString(&c.MilvusPassword, "MILVUS_PASSWORD")
	setString(&c.MilvusAPIKey, "MILVUS_API_KEY")
	setString(&c.MilvusCollection, "MILVUS_COLLECTION")
	setString(&c.RedisAddr, "REDIS_ADDR")
	setString(&c.RedisChannel, "REDIS_CHANNEL")
	setString(&c.EmbedProvider, "EMBED_PROVIDER")
	setString(&c.APIKey, "OPENAI_API_KEY")
	setString(&c.APIKey, "API_KEY")
	setString(&c.BaseURL, "BASE_URL")
	setString(&c.EmbeddingModel, "EMBEDDING_MODEL")
	setInt(&c.EmbeddingDim, "EMBEDDING_DIM")
	setInt(&c.EmbedBatchSize, "EMBED_BATCH_SIZE")
	setInt(&c.EmbedConcurrency, "EMBED_CONCURRENCY")
	setInt(&c.EmbedRPM, "EMBED_RPM")
	setString(&c.ONNXModelPath, "EMBED_MODEL_PATH")
	setString(&c.ONNXTokenizerPath, "EMBED_TOKENIZER_PATH")
	setString(&c.ONNXLibraryPath, "ONNXRUNTIME_LIB")
	setString(&c.TranscribeProvider, "TRANSCRIBE_PROVIDER")
	setString(&c.WhisperModel, "WHISPER_MODEL")
	setString(&c.WhisperCommand, "WHISPER_COMMAND")
	setString(&c.ChatModel, "OPENAI_MODEL")
	setString(&c.ChatModel, "CHAT_MODEL")
	setString(&c.FFmpegPath, "FFMPEG_PATH")
	setString(&c.FFprobePath, "FFPROBE_PATH")
	setFloat(&c.MaxDurationSec, "MAX_DURATION_SEC")
	setFloat(&c.ChunkWindowSec, "CHUNK_WINDOW_SEC")
	setInt(&c.ChatTopK, "CHAT_TOP_K")
	setInt(&c.ProgressBuffer, "PROGRESS_BUFFER")
}

func applyDefaults(c *Config) {
	def := func(dst *string, v string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = v
		}
	}
	def(&c.Port, "8080")
	def(&c.AllowedOrigins, "http://localhost:3000")
	def(&c.DataRoot, filepath.Join(".", "data"))
	def(&c.Store, "memory")
	def(&c.MilvusAddr, "localhost:19530")
	def(&c.MilvusCollection, "transcript_entries")
	def(&c.RedisChannel, "video_progress")
	def(&c.EmbedProvider, "openai")
	def(&c.BaseURL, "https://api.openai.com/v1")
	def(&c.EmbeddingModel, "text-embedding-3-small")
	def(&c.TranscribeProvider, "openai")
	def(&c.WhisperModel, "small")
	def(&c.WhisperCommand, "python scripts/whisper_transcribe.py")
	def(&c.ChatModel, "gpt-4o-mini")
	def(&c.FFmpegPath, "ffmpeg")
	def(&c.FFprobePath, "ffprobe")
	def(&c.ONNXModelPath, "model.onnx")
	def(&c.ONNXTokenizerPath, "tokenizer.json")

	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	c.EmbedProvider = strings.ToLower(strings.TrimSpace(c.EmbedProvider))
	c.TranscribeProvider = strings.ToLower(strings.TrimSpace(c.TranscribeProvider))

	if c.EmbeddingDim <= 0 {
		if c.EmbedProvider == "onnx" {
			c.EmbeddingDim = 384
		} else {
			c.EmbeddingDim = 1536
		}
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 32
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = 4
	}
	if c.EmbedRPM <= 0 {
		c.EmbedRPM = 600
	}
	if c.MaxDurationSec <= 0 {
		c.MaxDurationSec = 180
	}
	if c.ChunkWindowSec <= 0 {
		c.ChunkWindowSec = 15
	}
	if c.ChatTopK <= 0 {
		c.ChatTopK = 5
	}
	if c.ProgressBuffer <= 0 {
		c.ProgressBuffer = 16
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store {
	case "memory":
	case "pgvector":
		if strings.TrimSpace(c.PostgresURL) == "" {
			problems = append(problems, "postgres_url is required for the pgvector store")
		}
	case "milvus":
		if strings.TrimSpace(c.MilvusAddr) == "" {
			problems = append(problems, "milvus_addr is required for the milvus store")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown store %q", c.Store))
	}

	switch c.EmbedProvider {
	case "openai":
		if !c.HasValidAPI() {
			problems = append(problems, "api_key and base_url are required for openai embeddings")
		}
	case "onnx":
		if strings.TrimSpace(c.ONNXModelPath) == "" {
			problems = append(problems, "onnx_model_path is required for onnx embeddings")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown embed_provider %q", c.EmbedProvider))
	}

	switch c.TranscribeProvider {
	case "openai":
		if !c.HasValidAPI() {
			problems = append(problems, "api_key is required for openai transcription")
		}
	case "whisper":
		if strings.TrimSpace(c.WhisperCommand) == "" {
			problems = append(problems, "whisper_command is required for local whisper")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown transcribe_provider %q", c.TranscribeProvider))
	}

	if c.EmbeddingDim <= 0 {
		problems = append(problems, "embedding_dim must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) HasValidAPI() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.BaseURL) != ""
}

// MediaDir is where uploaded media is stored.
func (c *Config) MediaDir() string { return filepath.Join(c.DataRoot, "videos") }

// FramesDir is where preview frames are written.
func (c *Config) FramesDir() string { return filepath.Join(c.DataRoot, "frames") }

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
