package config

// DefaultBindAddress is the default bind address (localhost only).
const DefaultBindAddress = "127.0.0.1"

// DefaultPort is the default port for the dispatch API server.
const DefaultPort = 7742

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.cascade"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "cascade.toml"

// DefaultProviderTimeout is the default per-provider call timeout in seconds.
const DefaultProviderTimeout = 30

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
// Set high (5 minutes) because a full fallback chain across slow LLM
// providers can take a while.
const DefaultWriteTimeout = 300

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultMaxBodySize is the default maximum request body size in bytes (1 MB).
const DefaultMaxBodySize int64 = 1 << 20

// DefaultMinResponseLength is the minimum trimmed length a provider
// response must exceed to count as usable.
const DefaultMinResponseLength = 10

// DefaultMaxFailures is the consecutive-failure threshold after which a
// provider is disabled until an explicit reset.
const DefaultMaxFailures = 2

// DefaultRetryMaxAttempts is the default number of attempts per provider invocation.
const DefaultRetryMaxAttempts = 3

// DefaultRetryBaseDelayMs is the default base delay for exponential backoff in milliseconds.
const DefaultRetryBaseDelayMs = 500

// DefaultRetryMaxDelayMs is the default maximum backoff delay in milliseconds.
const DefaultRetryMaxDelayMs = 30000

// DefaultCacheTTL is the default response cache TTL in seconds.
const DefaultCacheTTL = 300

// DefaultCacheMaxMemoryEntries is the default size of the in-memory cache tier.
const DefaultCacheMaxMemoryEntries = 1000

// DefaultRetentionDays is the default dispatch-history retention in days.
const DefaultRetentionDays = 30

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "cascade"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// Provider kind values. Kind selects which client implementation a
// configured provider uses.
const (
	KindGemini      = "gemini"
	KindOpenAI      = "openai"
	KindHuggingFace = "huggingface"
	KindSerper      = "serper"
)

// ValidProviderKinds lists the allowed provider kind values.
var ValidProviderKinds = []string{KindGemini, KindOpenAI, KindHuggingFace, KindSerper}

// DefaultConfig returns a Config populated with all default values.
// Providers ship disabled; enabling one requires a key (see `cascade keys`).
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:  DefaultBindAddress,
			Port:         DefaultPort,
			LogLevel:     DefaultLogLevel,
			DataDir:      DefaultDataDir,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
		},
		Providers: map[string]ProviderConfig{
			"gemini": {
				Name:        "gemini",
				Kind:        "gemini",
				KeyRef:      "keyring://cascade/gemini",
				Model:       "gemini-2.0-flash",
				Enabled:     false,
				Priority:    1,
				Timeout:     60,
				MaxFailures: DefaultMaxFailures,
			},
			"groq": {
				Name:        "groq",
				Kind:        "openai",
				APIBase:     "https://api.groq.com/openai",
				KeyRef:      "keyring://cascade/groq",
				Model:       "llama-3.3-70b-versatile",
				Enabled:     false,
				Priority:    2,
				Timeout:     30,
				MaxFailures: DefaultMaxFailures,
			},
			"openai": {
				Name:        "openai",
				Kind:        "openai",
				APIBase:     "https://api.openai.com",
				KeyRef:      "keyring://cascade/openai",
				Model:       "gpt-4o-mini",
				Enabled:     false,
				Priority:    3,
				Timeout:     30,
				MaxFailures: DefaultMaxFailures,
			},
			"huggingface": {
				Name:   "huggingface",
				Kind:   "huggingface",
				KeyRef: "keyring://cascade/huggingface",
				Models: []string{
					"mistralai/Mistral-7B-Instruct-v0.3",
					"microsoft/Phi-3-mini-4k-instruct",
				},
				Enabled:     false,
				Priority:    4,
				Timeout:     60,
				MaxFailures: DefaultMaxFailures,
			},
			"serper": {
				Name:        "serper",
				Kind:        "serper",
				KeyRef:      "keyring://cascade/serper",
				Enabled:     false,
				Priority:    1,
				Timeout:     15,
				MaxFailures: DefaultMaxFailures,
			},
		},
		Dispatch: DispatchConfig{
			MinResponseLength: DefaultMinResponseLength,
			RetryMaxAttempts:  DefaultRetryMaxAttempts,
			RetryBaseDelayMs:  DefaultRetryBaseDelayMs,
			RetryMaxDelayMs:   DefaultRetryMaxDelayMs,
		},
		Cache: CacheConfig{
			Enabled:          true,
			TTLSeconds:       DefaultCacheTTL,
			MaxMemoryEntries: DefaultCacheMaxMemoryEntries,
		},
		Storage: StorageConfig{
			RetentionDays: DefaultRetentionDays,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
		},
	}
}
