package manager

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultIdleTimeout  = 300 * time.Second
	defaultPollInterval = 10 * time.Second
	defaultMaxWait      = 30 * time.Second
	defaultCtxSize      = 4096
	defaultGPULayers    = 40
	defaultEngine       = EngineLlama
)

// Engine names accepted by ManagerConfig.Engine.
const (
	EngineLlama  = "llama"
	EngineServer = "server"
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// ModelPath is the resolved artifact path (llama) or remote model id (server).
	ModelPath string
	// ModelName is the public name reported on the API.
	ModelName string
	Engine    string

	// In-process llama.cpp configuration.
	CtxSize   int
	Threads   int
	GPULayers int

	// llama-server configuration.
	ServerURL      string
	ServerAPIKey   string
	ServerTimeout  time.Duration
	ConnectTimeout time.Duration

	IdleTimeout  time.Duration
	PollInterval time.Duration
	MaxWait      time.Duration

	// Adapter overrides the engine selected by Engine. Used by tests and
	// embedders that bring their own runtime.
	Adapter InferenceAdapter
	Logger  *zerolog.Logger
	Metrics *Metrics
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	if cfg.Engine == "" {
		cfg.Engine = defaultEngine
	}
	if cfg.CtxSize <= 0 {
		cfg.CtxSize = defaultCtxSize
	}
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}
	if cfg.GPULayers < 0 {
		cfg.GPULayers = defaultGPULayers
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.ModelName == "" {
		cfg.ModelName = cfg.ModelPath
	}

	m := &Manager{
		cfg:       cfg,
		state:     StateUnloaded,
		genCh:     make(chan struct{}, 1),
		metrics:   cfg.Metrics,
		now:       time.Now,
		startTime: time.Now(),
	}
	if cfg.Logger != nil {
		m.log = *cfg.Logger
	} else {
		m.log = zerolog.Nop()
	}
	m.log = m.log.With().Str("component", "manager").Str("model", cfg.ModelName).Logger()

	switch {
	case cfg.Adapter != nil:
		m.adapter = cfg.Adapter
	case cfg.Engine == EngineServer:
		m.adapter = NewLlamaServerAdapter(cfg.ServerURL, cfg.ServerAPIKey, cfg.ServerTimeout, cfg.ConnectTimeout, m.log)
	default:
		m.adapter = NewLlamaAdapter(cfg.CtxSize, cfg.Threads, cfg.GPULayers)
	}
	return m
}
