// Package config provides typed, validated configuration for devscontext.
//
// Configuration is read from a .devscontext.yaml file (see Find) and then
// overridden by DEVSCONTEXT_ prefixed environment variables. String values
// may reference environment variables with ${VAR} or $VAR. Defaults are
// applied before validation so every field is usable after Load returns.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete devscontext configuration.
type Config struct {
	Sources   SourcesConfig   `koanf:"sources"`
	Synthesis SynthesisConfig `koanf:"synthesis"`
	Cache     CacheConfig     `koanf:"cache"`
	Agents    AgentsConfig    `koanf:"agents"`
	Storage   StorageConfig   `koanf:"storage"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Server    ServerConfig    `koanf:"server"`
	Secrets   SecretsConfig   `koanf:"secrets"`
	Events    EventsConfig    `koanf:"events"`
	Workflows WorkflowsConfig `koanf:"workflows"`
}

// SourcesConfig groups every adapter's settings.
type SourcesConfig struct {
	Jira      JiraConfig      `koanf:"jira"`
	Fireflies FirefliesConfig `koanf:"fireflies"`
	Docs      DocsConfig      `koanf:"docs"`
	Slack     SlackConfig     `koanf:"slack"`
	Gmail     GmailConfig     `koanf:"gmail"`
	GitHub    GitHubConfig    `koanf:"github"`
}

// JiraConfig configures the issue tracker adapter.
type JiraConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Primary  bool   `koanf:"primary"`
	BaseURL  string `koanf:"base_url"`
	Email    string `koanf:"email"`
	APIToken Secret `koanf:"api_token"`
	Project  string `koanf:"project"`
}

// Configured reports whether the required connection fields are present.
func (c JiraConfig) Configured() bool {
	return c.BaseURL != "" && c.Email != "" && c.APIToken.IsSet()
}

// FirefliesConfig configures the meeting transcript adapter.
type FirefliesConfig struct {
	Enabled bool   `koanf:"enabled"`
	APIKey  Secret `koanf:"api_key"`
}

// DocsConfig configures local documentation matching.
type DocsConfig struct {
	Enabled          bool      `koanf:"enabled"`
	Paths            []string  `koanf:"paths"`
	StandardsPath    string    `koanf:"standards_path"`
	ArchitecturePath string    `koanf:"architecture_path"`
	RAG              RAGConfig `koanf:"rag"`
}

// AllPaths returns the configured roots plus the dedicated standards and
// architecture paths, without duplicates.
func (c DocsConfig) AllPaths() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range append(append([]string{}, c.Paths...), c.StandardsPath, c.ArchitecturePath) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// RAGConfig configures semantic document matching.
type RAGConfig struct {
	Enabled             bool    `koanf:"enabled"`
	EmbeddingProvider   string  `koanf:"embedding_provider"`
	EmbeddingModel      string  `koanf:"embedding_model"`
	IndexPath           string  `koanf:"index_path"`
	TopK                int     `koanf:"top_k"`
	SimilarityThreshold float64 `koanf:"similarity_threshold"`
	OpenAIAPIKey        Secret  `koanf:"openai_api_key"`
	OllamaURL           string  `koanf:"ollama_url"`
	CacheDir            string  `koanf:"cache_dir"`
}

// SlackConfig configures the chat adapter.
type SlackConfig struct {
	Enabled           bool     `koanf:"enabled"`
	BotToken          Secret   `koanf:"bot_token"`
	Channels          []string `koanf:"channels"`
	IncludeThreads    bool     `koanf:"include_threads"`
	MaxMessages       int      `koanf:"max_messages"`
	LookbackDays      int      `koanf:"lookback_days"`
	RequestsPerMinute int      `koanf:"requests_per_minute"`
}

// GmailConfig configures the email adapter.
type GmailConfig struct {
	Enabled         bool     `koanf:"enabled"`
	CredentialsPath string   `koanf:"credentials_path"`
	TokenPath       string   `koanf:"token_path"`
	SearchScope     string   `koanf:"search_scope"`
	MaxResults      int      `koanf:"max_results"`
	Labels          []string `koanf:"labels"`
}

// GitHubConfig configures the version-control adapter.
type GitHubConfig struct {
	Enabled      bool     `koanf:"enabled"`
	Token        Secret   `koanf:"token"`
	Repos        []string `koanf:"repos"`
	RecentPRDays int      `koanf:"recent_pr_days"`
	MaxPRs       int      `koanf:"max_prs"`
	BaseURL      string   `koanf:"base_url"`
}

// SynthesisConfig selects the synthesis plugin and its LLM backend.
type SynthesisConfig struct {
	Plugin          string  `koanf:"plugin"`
	Provider        string  `koanf:"provider"`
	Model           string  `koanf:"model"`
	APIKey          Secret  `koanf:"api_key"`
	BaseURL         string  `koanf:"base_url"`
	MaxOutputTokens int     `koanf:"max_output_tokens"`
	Temperature     float64 `koanf:"temperature"`
	PromptTemplate  string  `koanf:"prompt_template"`
	TemplatePath    string  `koanf:"template_path"`
}

// CacheConfig configures the in-memory on-demand context cache.
type CacheConfig struct {
	Enabled    bool `koanf:"enabled"`
	TTLMinutes int  `koanf:"ttl_minutes"`
	MaxSize    int  `koanf:"max_size"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// AgentsConfig groups background agents.
type AgentsConfig struct {
	Preprocessor PreprocessorConfig `koanf:"preprocessor"`
}

// PreprocessorConfig configures the ticket watcher and pipeline.
type PreprocessorConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Trigger         TriggerConfig `koanf:"trigger"`
	JiraStatus      string        `koanf:"jira_status"`
	JiraProject     StringList    `koanf:"jira_project"`
	ContextTTLHours int           `koanf:"context_ttl_hours"`
}

// ContextTTL returns how long a prebuilt context stays fresh.
func (c PreprocessorConfig) ContextTTL() time.Duration {
	return time.Duration(c.ContextTTLHours) * time.Hour
}

// TriggerConfig configures the watcher poll loop.
type TriggerConfig struct {
	PollIntervalMinutes int `koanf:"poll_interval_minutes"`
}

// PollInterval returns the interval between watcher polls.
func (c TriggerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMinutes) * time.Minute
}

// StorageConfig configures the prebuilt context database.
type StorageConfig struct {
	Path string `koanf:"path"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Output string `koanf:"output"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled       bool     `koanf:"enabled"`
	Endpoint      string   `koanf:"endpoint"`
	Protocol      string   `koanf:"protocol"`
	Insecure      bool     `koanf:"insecure"`
	TLSSkipVerify bool     `koanf:"tls_skip_verify"`
	ServiceName   string   `koanf:"service_name"`
	SamplingRate  float64  `koanf:"sampling_rate"`
	ExportEvery   Duration `koanf:"export_interval"`
}

// ServerConfig configures the optional HTTP API.
type ServerConfig struct {
	HTTP HTTPConfig `koanf:"http"`
}

// HTTPConfig holds HTTP listener settings.
type HTTPConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// SecretsConfig configures scrubbing of synthesized output.
type SecretsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// EventsConfig configures preprocessing lifecycle events published on NATS.
// With Embedded set, serve runs an in-process NATS server on EmbeddedPort
// so other devscontext processes on the machine can connect to it.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	Embedded      bool   `koanf:"embedded"`
	EmbeddedPort  int    `koanf:"embedded_port"`
}

// WorkflowsConfig configures durable preprocessing on Temporal.
type WorkflowsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// Validation errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

var (
	validPlugins            = []string{"llm", "template", "passthrough"}
	validProviders          = []string{"anthropic", "openai", "ollama"}
	validEmbeddingProviders = []string{"local", "openai", "ollama"}
)

var defaultModels = map[string]string{
	"anthropic": "claude-haiku-4-5",
	"openai":    "gpt-4o-mini",
	"ollama":    "llama3.2",
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg, nil)
	return cfg
}

// applyDefaults fills zero values. explicit holds the koanf keys present in
// the loaded sources so booleans that default to true are only set when
// the user did not write them.
func applyDefaults(cfg *Config, explicit map[string]bool) {
	setBool := func(key string, dst *bool) {
		if explicit == nil || !explicit[key] {
			*dst = true
		}
	}

	j := &cfg.Sources.Jira
	setBool("sources.jira.enabled", &j.Enabled)
	setBool("sources.jira.primary", &j.Primary)
	j.BaseURL = strings.TrimRight(j.BaseURL, "/")

	setBool("sources.fireflies.enabled", &cfg.Sources.Fireflies.Enabled)

	d := &cfg.Sources.Docs
	setBool("sources.docs.enabled", &d.Enabled)
	if len(d.Paths) == 0 {
		d.Paths = []string{"./docs/"}
	}
	if d.RAG.EmbeddingProvider == "" {
		d.RAG.EmbeddingProvider = "local"
	}
	if d.RAG.EmbeddingModel == "" {
		d.RAG.EmbeddingModel = "all-MiniLM-L6-v2"
	}
	if d.RAG.IndexPath == "" {
		d.RAG.IndexPath = ".devscontext/doc_index.json"
	}
	if d.RAG.TopK == 0 {
		d.RAG.TopK = 10
	}
	if _, ok := explicit["sources.docs.rag.similarity_threshold"]; !ok && d.RAG.SimilarityThreshold == 0 {
		d.RAG.SimilarityThreshold = 0.3
	}
	if d.RAG.OllamaURL == "" {
		d.RAG.OllamaURL = "http://localhost:11434"
	}

	s := &cfg.Sources.Slack
	setBool("sources.slack.enabled", &s.Enabled)
	setBool("sources.slack.include_threads", &s.IncludeThreads)
	if s.MaxMessages == 0 {
		s.MaxMessages = 20
	}
	if s.LookbackDays == 0 {
		s.LookbackDays = 30
	}
	if s.RequestsPerMinute == 0 {
		s.RequestsPerMinute = 50
	}

	g := &cfg.Sources.Gmail
	setBool("sources.gmail.enabled", &g.Enabled)
	if g.TokenPath == "" {
		g.TokenPath = ".devscontext/gmail_token.json"
	}
	if g.SearchScope == "" {
		g.SearchScope = "newer_than:30d"
	}
	if g.MaxResults == 0 {
		g.MaxResults = 10
	}
	if len(g.Labels) == 0 {
		g.Labels = []string{"INBOX"}
	}

	gh := &cfg.Sources.GitHub
	setBool("sources.github.enabled", &gh.Enabled)
	if gh.RecentPRDays == 0 {
		gh.RecentPRDays = 14
	}
	if gh.MaxPRs == 0 {
		gh.MaxPRs = 10
	}

	sy := &cfg.Synthesis
	if sy.Plugin == "" {
		sy.Plugin = "llm"
	}
	if sy.Provider == "" {
		sy.Provider = "anthropic"
	}
	if sy.Model == "" {
		sy.Model = defaultModels[sy.Provider]
	}
	if sy.MaxOutputTokens == 0 {
		sy.MaxOutputTokens = 3000
	}

	setBool("cache.enabled", &cfg.Cache.Enabled)
	if cfg.Cache.TTLMinutes == 0 {
		cfg.Cache.TTLMinutes = 15
	}
	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = 100
	}

	p := &cfg.Agents.Preprocessor
	if p.Trigger.PollIntervalMinutes == 0 {
		p.Trigger.PollIntervalMinutes = 5
	}
	if p.JiraStatus == "" {
		p.JiraStatus = "Ready for Development"
	}
	if p.ContextTTLHours == 0 {
		p.ContextTTLHours = 24
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = ".devscontext/cache.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}

	t := &cfg.Telemetry
	if t.Endpoint == "" {
		t.Endpoint = "localhost:4317"
	}
	if t.Protocol == "" {
		t.Protocol = "grpc"
	}
	if t.ServiceName == "" {
		t.ServiceName = "devscontext"
	}
	if t.SamplingRate == 0 {
		t.SamplingRate = 1.0
	}
	if t.ExportEvery == 0 {
		t.ExportEvery = Duration(15 * time.Second)
	}

	h := &cfg.Server.HTTP
	if h.Host == "" {
		h.Host = "127.0.0.1"
	}
	if h.Port == 0 {
		h.Port = 8787
	}
	if h.ShutdownTimeout == 0 {
		h.ShutdownTimeout = Duration(10 * time.Second)
	}

	setBool("secrets.enabled", &cfg.Secrets.Enabled)

	ev := &cfg.Events
	if ev.URL == "" {
		ev.URL = "nats://127.0.0.1:4222"
	}
	if ev.SubjectPrefix == "" {
		ev.SubjectPrefix = "devscontext"
	}
	if ev.EmbeddedPort == 0 {
		ev.EmbeddedPort = 4222
	}

	wf := &cfg.Workflows
	if wf.HostPort == "" {
		wf.HostPort = "localhost:7233"
	}
	if wf.Namespace == "" {
		wf.Namespace = "default"
	}
	if wf.TaskQueue == "" {
		wf.TaskQueue = "devscontext-preprocess"
	}
}

// Validate checks every range and enum constraint.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	rag := c.Sources.Docs.RAG
	if !contains(validEmbeddingProviders, rag.EmbeddingProvider) {
		add("sources.docs.rag.embedding_provider must be one of %v, got %q", validEmbeddingProviders, rag.EmbeddingProvider)
	}
	if rag.TopK < 1 || rag.TopK > 50 {
		add("sources.docs.rag.top_k must be between 1 and 50, got %d", rag.TopK)
	}
	if rag.SimilarityThreshold < 0 || rag.SimilarityThreshold > 1 {
		add("sources.docs.rag.similarity_threshold must be between 0 and 1, got %g", rag.SimilarityThreshold)
	}

	s := c.Sources.Slack
	if s.MaxMessages < 1 || s.MaxMessages > 100 {
		add("sources.slack.max_messages must be between 1 and 100, got %d", s.MaxMessages)
	}
	if s.LookbackDays < 1 || s.LookbackDays > 365 {
		add("sources.slack.lookback_days must be between 1 and 365, got %d", s.LookbackDays)
	}
	if c.Sources.Gmail.MaxResults < 1 || c.Sources.Gmail.MaxResults > 100 {
		add("sources.gmail.max_results must be between 1 and 100, got %d", c.Sources.Gmail.MaxResults)
	}
	gh := c.Sources.GitHub
	if gh.RecentPRDays < 1 || gh.RecentPRDays > 90 {
		add("sources.github.recent_pr_days must be between 1 and 90, got %d", gh.RecentPRDays)
	}
	if gh.MaxPRs < 1 || gh.MaxPRs > 50 {
		add("sources.github.max_prs must be between 1 and 50, got %d", gh.MaxPRs)
	}
	for _, repo := range gh.Repos {
		if parts := strings.Split(repo, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			add("sources.github.repos entries must be owner/repo, got %q", repo)
		}
	}

	sy := c.Synthesis
	if !contains(validPlugins, sy.Plugin) {
		add("synthesis.plugin must be one of %v, got %q", validPlugins, sy.Plugin)
	}
	if !contains(validProviders, sy.Provider) {
		add("synthesis.provider must be one of %v, got %q", validProviders, sy.Provider)
	}
	if sy.MaxOutputTokens < 100 || sy.MaxOutputTokens > 10000 {
		add("synthesis.max_output_tokens must be between 100 and 10000, got %d", sy.MaxOutputTokens)
	}
	if sy.Temperature < 0 || sy.Temperature > 2 {
		add("synthesis.temperature must be between 0 and 2, got %g", sy.Temperature)
	}
	if sy.Plugin == "template" && sy.TemplatePath == "" {
		add("synthesis.template_path is required when plugin is template")
	}

	if c.Cache.TTLMinutes < 1 || c.Cache.TTLMinutes > 1440 {
		add("cache.ttl_minutes must be between 1 and 1440, got %d", c.Cache.TTLMinutes)
	}
	if c.Cache.MaxSize < 1 || c.Cache.MaxSize > 10000 {
		add("cache.max_size must be between 1 and 10000, got %d", c.Cache.MaxSize)
	}

	p := c.Agents.Preprocessor
	if p.Trigger.PollIntervalMinutes < 1 || p.Trigger.PollIntervalMinutes > 60 {
		add("agents.preprocessor.trigger.poll_interval_minutes must be between 1 and 60, got %d", p.Trigger.PollIntervalMinutes)
	}
	if p.ContextTTLHours < 1 || p.ContextTTLHours > 168 {
		add("agents.preprocessor.context_ttl_hours must be between 1 and 168, got %d", p.ContextTTLHours)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		add("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Logging.Output != "stderr" && c.Logging.Output != "stdout" {
		add("logging.output must be 'stderr' or 'stdout', got %q", c.Logging.Output)
	}
	if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
		add("telemetry.protocol must be 'grpc' or 'http', got %q", c.Telemetry.Protocol)
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		add("telemetry.sampling_rate must be between 0 and 1, got %g", c.Telemetry.SamplingRate)
	}
	if c.Server.HTTP.Port < 1 || c.Server.HTTP.Port > 65535 {
		add("server.http.port must be between 1 and 65535, got %d", c.Server.HTTP.Port)
	}
	if c.Events.EmbeddedPort < 1 || c.Events.EmbeddedPort > 65535 {
		add("events.embedded_port must be between 1 and 65535, got %d", c.Events.EmbeddedPort)
	}
	if strings.ContainsAny(c.Events.SubjectPrefix, " *>") {
		add("events.subject_prefix must not contain spaces or wildcards, got %q", c.Events.SubjectPrefix)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
