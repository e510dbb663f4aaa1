package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/agenttic/agenttic/pkg/log"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Embedding    EmbeddingConfig    `mapstructure:"embedding"`
	Reranker     RerankerConfig     `mapstructure:"reranker"`
	Chunker      ChunkerConfig      `mapstructure:"chunker"`
	Fetcher      FetcherConfig      `mapstructure:"fetcher"`
	RAG          RAGConfig          `mapstructure:"rag"`
	VectorStore  VectorStoreConfig  `mapstructure:"vector_store"`
	MetaStore    MetaStoreConfig    `mapstructure:"meta_store"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	Ingest       IngestConfig       `mapstructure:"ingest"`
	Tools        ToolsConfig        `mapstructure:"tools"`
	Search       SearchConfig       `mapstructure:"search"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
}

type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type LLMConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EmbeddingConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Dimensions     int    `mapstructure:"dimensions"`
	BatchSize      int    `mapstructure:"batch_size"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`
}

type RerankerConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	MaxTokens      int    `mapstructure:"max_tokens"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`
}

type ChunkerConfig struct {
	ChunkSize   int    `mapstructure:"chunk_size"`
	Overlap     int    `mapstructure:"overlap"`
	HTMLSize    int    `mapstructure:"html_chunk_size"`
	HTMLOverlap int    `mapstructure:"html_overlap"`
	Encoding    string `mapstructure:"encoding"`
}

type FetcherConfig struct {
	Engine          string        `mapstructure:"engine"` // "http" or "browser"
	Timeout         time.Duration `mapstructure:"timeout"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	CacheMaxEntries int           `mapstructure:"cache_max_entries"`
	MaxContentSize  int           `mapstructure:"max_content_size"`
	UserAgent       string        `mapstructure:"user_agent"`
}

type RAGConfig struct {
	TopK       int `mapstructure:"top_k"`
	RerankTopK int `mapstructure:"rerank_top_k"`
}

type VectorStoreConfig struct {
	URL        string `mapstructure:"url"`
	Collection string `mapstructure:"collection"`
}

type MetaStoreConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type WebhookConfig struct {
	Prefix  string        `mapstructure:"prefix"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type IngestConfig struct {
	RecursionDepth int `mapstructure:"recursion_depth"`
}

type ToolsConfig struct {
	MaxSteps    int           `mapstructure:"max_steps"`
	DefaultMode string        `mapstructure:"default_mode"`
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	RunTimeout  time.Duration `mapstructure:"run_timeout"`
}

type SearchConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type OrchestratorConfig struct {
	GapRecallTopK int    `mapstructure:"gap_recall_top_k"`
	Language      string `mapstructure:"language"`
}

// hotReloadKeys may be applied without restart. Changes to any other
// key are logged and take effect on the next start.
var hotReloadKeys = map[string]bool{
	"chunker.chunk_size":      true,
	"chunker.overlap":         true,
	"chunker.html_chunk_size": true,
	"chunker.html_overlap":    true,
	"rag.top_k":               true,
	"rag.rerank_top_k":        true,
	"reranker.max_tokens":     true,
	"ingest.recursion_depth":  true,
	"tools.max_steps":         true,
	"tools.default_mode":      true,
	"fetcher.cache_ttl":       true,
	"webhook.prefix":          true,
	"webhook.timeout":         true,
}

// IsHotReloadable reports whether key may be applied without restart.
func IsHotReloadable(key string) bool { return hotReloadKeys[key] }

// ApplyOverrides layers string-typed key/value overrides (the DB config
// store) onto cfg. Unknown keys and unparsable values are skipped with
// a warning so a bad override can never wedge startup.
func ApplyOverrides(cfg *Config, overrides map[string]string) {
	logger := log.WithModule("config")

	setInt := func(dst *int, raw string) bool {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return false
		}
		*dst = n
		return true
	}
	setDuration := func(dst *time.Duration, raw string) bool {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			*dst = d
			return true
		}
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			*dst = time.Duration(secs) * time.Second
			return true
		}
		return false
	}

	for key, raw := range overrides {
		ok := true
		switch key {
		case "chunker.chunk_size":
			ok = setInt(&cfg.Chunker.ChunkSize, raw)
		case "chunker.overlap":
			ok = setInt(&cfg.Chunker.Overlap, raw)
		case "chunker.html_chunk_size":
			ok = setInt(&cfg.Chunker.HTMLSize, raw)
		case "chunker.html_overlap":
			ok = setInt(&cfg.Chunker.HTMLOverlap, raw)
		case "rag.top_k":
			ok = setInt(&cfg.RAG.TopK, raw)
		case "rag.rerank_top_k":
			ok = setInt(&cfg.RAG.RerankTopK, raw)
		case "reranker.max_tokens":
			ok = setInt(&cfg.Reranker.MaxTokens, raw)
		case "ingest.recursion_depth":
			ok = setInt(&cfg.Ingest.RecursionDepth, raw)
		case "tools.max_steps":
			ok = setInt(&cfg.Tools.MaxSteps, raw)
		case "tools.default_mode":
			cfg.Tools.DefaultMode = raw
		case "fetcher.cache_ttl":
			ok = setDuration(&cfg.Fetcher.CacheTTL, raw)
		case "webhook.timeout":
			ok = setDuration(&cfg.Webhook.Timeout, raw)
		case "webhook.prefix":
			cfg.Webhook.Prefix = raw
		default:
			logger.Warn("unknown config override", "key", key)
			continue
		}
		if !ok {
			logger.Warn("invalid config override value", "key", key, "value", raw)
		}
	}
}

// Load reads the config file (TOML) at configPath, falling back to
// ./agenttic.toml, and overlays AGENTTIC_* environment variables.
func Load(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()

	if configPath != "" {
		abs, _ := filepath.Abs(configPath)
		v.SetConfigFile(abs)
	} else {
		if _, err := os.Stat("agenttic.toml"); err == nil {
			abs, _ := filepath.Abs("agenttic.toml")
			v.SetConfigFile(abs)
		} else {
			v.SetConfigName("agenttic")
			v.SetConfigType("toml")
			v.AddConfigPath(".")
		}
	}

	setDefaults(v)
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		// No config file is fine; defaults plus env carry the day.
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, v, nil
}

// Watch re-reads the config on file change and invokes onReload with a
// fresh snapshot whenever at least one hot-reloadable key changed.
func Watch(v *viper.Viper, onReload func(*Config)) {
	logger := log.WithModule("config")
	previous := v.AllSettings()

	v.OnConfigChange(func(e fsnotify.Event) {
		fresh := &Config{}
		if err := v.Unmarshal(fresh); err != nil {
			logger.Error("config reload failed", "error", err)
			return
		}

		hot, cold := diffKeys(previous, v.AllSettings())
		previous = v.AllSettings()

		for _, k := range cold {
			logger.Warn("config key changed but requires restart", "key", k)
		}
		if len(hot) > 0 {
			logger.Info("applying hot config reload", "keys", strings.Join(hot, ","))
			onReload(fresh)
		}
	})
	v.WatchConfig()
}

func diffKeys(old, new map[string]any) (hot, cold []string) {
	flatOld := flatten("", old)
	flatNew := flatten("", new)
	for k, nv := range flatNew {
		if ov, ok := flatOld[k]; ok && fmt.Sprint(ov) == fmt.Sprint(nv) {
			continue
		}
		if hotReloadKeys[k] {
			hot = append(hot, k)
		} else {
			cold = append(cold, k)
		}
	}
	return hot, cold
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
		} else {
			out[key] = val
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("llm.base_url", "http://localhost:11434/v1")
	v.SetDefault("llm.model", "qwen3")
	v.SetDefault("llm.timeout", 300*time.Second)

	v.SetDefault("embedding.base_url", "http://localhost:11434/v1")
	v.SetDefault("embedding.model", "qwen3-embedding")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.batch_size", 2)
	v.SetDefault("embedding.max_concurrency", 4)

	v.SetDefault("reranker.base_url", "")
	v.SetDefault("reranker.model", "qwen3-reranker")
	v.SetDefault("reranker.max_tokens", 3072)
	v.SetDefault("reranker.max_concurrency", 4)

	v.SetDefault("chunker.chunk_size", 800)
	v.SetDefault("chunker.overlap", 80)
	v.SetDefault("chunker.html_chunk_size", 4000)
	v.SetDefault("chunker.html_overlap", 200)
	v.SetDefault("chunker.encoding", "cl100k_base")

	v.SetDefault("fetcher.engine", "http")
	v.SetDefault("fetcher.timeout", 60*time.Second)
	v.SetDefault("fetcher.cache_ttl", 3600*time.Second)
	v.SetDefault("fetcher.cache_max_entries", 256)
	v.SetDefault("fetcher.max_content_size", 2*1024*1024)
	v.SetDefault("fetcher.user_agent", "agenttic/1.0")

	v.SetDefault("rag.top_k", 200)
	v.SetDefault("rag.rerank_top_k", 20)

	v.SetDefault("vector_store.url", "localhost:6334")
	v.SetDefault("vector_store.collection", "agenttic_chunks")

	v.SetDefault("meta_store.db_path", "agenttic.db")

	v.SetDefault("webhook.prefix", "")
	v.SetDefault("webhook.timeout", 30*time.Second)

	v.SetDefault("ingest.recursion_depth", 2)

	v.SetDefault("tools.max_steps", 6)
	v.SetDefault("tools.default_mode", "auto")
	v.SetDefault("tools.step_timeout", 120*time.Second)
	v.SetDefault("tools.run_timeout", 600*time.Second)

	v.SetDefault("search.base_url", "")
	v.SetDefault("search.timeout", 60*time.Second)

	v.SetDefault("orchestrator.gap_recall_top_k", 5)
	v.SetDefault("orchestrator.language", "zh")
}

func bindEnvVars(v *viper.Viper) {
	v.SetEnvPrefix("AGENTTIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}
