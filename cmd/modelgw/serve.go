package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"modelgw/internal/chat"
	"modelgw/internal/config"
	"modelgw/internal/httpapi"
	"modelgw/internal/manager"
	"modelgw/internal/registry"
)

const serveLongDesc = `Start the HTTP gateway.

Endpoints:
  POST /v1/chat/completions   chat completion (batch or SSE stream)
  GET  /v1/models             the single served model
  GET  /status                model lifecycle snapshot
  GET  /healthz, /readyz      liveness and readiness
  GET  /metrics               Prometheus metrics`

const envPrefix = "MODELGW_"

type serveCommander struct {
	configPath string
	flags      config.Config
	gpuLayers  int
	corsList   string

	// envErrs holds MODELGW_* values that did not parse, by flag name.
	envErrs []envError
}

type envError struct {
	flag string
	err  error
}

func newServeCmd() *cobra.Command {
	return (&serveCommander{}).command()
}

func (c *serveCommander) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.resolveConfig(cmd)
			if err != nil {
				return err
			}
			return c.run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&c.configPath, "config", envStr("config", ""), "Path to a .yaml, .json or .toml config file")
	f.StringVar(&c.flags.Addr, "addr", envStr("addr", ""), "HTTP listen address (default :8008)")
	f.StringVar(&c.flags.ModelPath, "model-path", envStr("model-path", ""), "GGUF file, or directory holding GGUF files")
	f.StringVar(&c.flags.ModelName, "model-name", envStr("model-name", ""), "Public model name (default: file name without .gguf)")
	f.StringVar(&c.flags.Engine, "engine", envStr("engine", ""), "Inference engine: llama or server")
	f.StringVar(&c.flags.ServerURL, "server-url", envStr("server-url", ""), "llama-server base URL (server engine)")
	f.StringVar(&c.flags.ServerAPIKey, "server-api-key", envStr("server-api-key", ""), "Bearer token for llama-server")
	f.IntVar(&c.flags.CtxSize, "ctx-size", c.envInt("ctx-size", 0), "Context window in tokens")
	f.IntVar(&c.flags.Threads, "threads", c.envInt("threads", 0), "CPU threads (default: number of CPUs)")
	f.IntVar(&c.gpuLayers, "gpu-layers", c.envInt("gpu-layers", -1), "Layers offloaded to the GPU (0 for CPU only)")
	f.IntVar(&c.flags.IdleTimeoutSeconds, "idle-timeout", c.envInt("idle-timeout", 0), "Seconds of inactivity before the model is unloaded")
	f.IntVar(&c.flags.PollIntervalSeconds, "poll-interval", c.envInt("poll-interval", 0), "Seconds between idle checks")
	f.IntVar(&c.flags.MaxWaitSeconds, "max-wait", c.envInt("max-wait", 0), "Seconds a request waits for the engine before 429")
	f.IntVar(&c.flags.RequestTimeoutSeconds, "request-timeout", c.envInt("request-timeout", 0), "Seconds a chat completion may take (0 disables)")
	f.Int64Var(&c.flags.MaxBodyBytes, "max-body-bytes", int64(c.envInt("max-body-bytes", 0)), "Maximum request body size")
	f.StringVar(&c.flags.LogLevel, "log-level", envStr("log-level", ""), "Log level: debug, info, warn, error")
	f.StringVar(&c.flags.LogFormat, "log-format", envStr("log-format", ""), "Log format: console or json")
	f.StringVar(&c.flags.RequestLogLevel, "request-log-level", envStr("request-log-level", ""), "Default per-request log level (overridable with ?log= or X-Log-Level)")
	f.BoolVar(&c.flags.CORSEnabled, "cors", c.envBool("cors", false), "Enable CORS")
	f.StringVar(&c.corsList, "cors-origins", envStr("cors-origins", ""), "Comma-separated allowed origins")
	f.BoolVar(&c.flags.Preload, "preload", c.envBool("preload", false), "Load the model at startup")

	return cmd
}

// resolveConfig layers the config file, then any flag given on the command
// line or through the environment, then defaults.
func (c *serveCommander) resolveConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	for _, e := range c.envErrs {
		// An explicit flag replaces the bad environment value.
		if !cmd.Flags().Changed(e.flag) {
			return cfg, e.err
		}
	}
	if c.configPath != "" {
		loaded, err := config.Load(c.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	set := func(name string) bool { return overridden(cmd, name) }
	if set("addr") {
		cfg.Addr = c.flags.Addr
	}
	if set("model-path") {
		cfg.ModelPath = c.flags.ModelPath
	}
	if set("model-name") {
		cfg.ModelName = c.flags.ModelName
	}
	if set("engine") {
		cfg.Engine = c.flags.Engine
	}
	if set("server-url") {
		cfg.ServerURL = c.flags.ServerURL
	}
	if set("server-api-key") {
		cfg.ServerAPIKey = c.flags.ServerAPIKey
	}
	if set("ctx-size") {
		cfg.CtxSize = c.flags.CtxSize
	}
	if set("threads") {
		cfg.Threads = c.flags.Threads
	}
	if set("gpu-layers") && c.gpuLayers >= 0 {
		n := c.gpuLayers
		cfg.GPULayers = &n
	}
	if set("idle-timeout") {
		cfg.IdleTimeoutSeconds = c.flags.IdleTimeoutSeconds
	}
	if set("poll-interval") {
		cfg.PollIntervalSeconds = c.flags.PollIntervalSeconds
	}
	if set("max-wait") {
		cfg.MaxWaitSeconds = c.flags.MaxWaitSeconds
	}
	if set("request-timeout") {
		cfg.RequestTimeoutSeconds = c.flags.RequestTimeoutSeconds
	}
	if set("max-body-bytes") {
		cfg.MaxBodyBytes = c.flags.MaxBodyBytes
	}
	if set("log-level") {
		cfg.LogLevel = c.flags.LogLevel
	}
	if set("log-format") {
		cfg.LogFormat = c.flags.LogFormat
	}
	if set("request-log-level") {
		cfg.RequestLogLevel = c.flags.RequestLogLevel
	}
	if set("cors") {
		cfg.CORSEnabled = c.flags.CORSEnabled
	}
	if set("cors-origins") {
		cfg.CORSOrigins = splitCSV(c.corsList)
	}
	if set("preload") {
		cfg.Preload = c.flags.Preload
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *serveCommander) run(ctx context.Context, cfg config.Config) error {
	log, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	modelPath := cfg.ModelPath
	if cfg.Engine == manager.EngineLlama {
		modelPath, err = registry.Resolve(cfg.ModelPath, cfg.ModelName)
		if err != nil {
			return fmt.Errorf("resolve model: %w", err)
		}
	}
	modelName := cfg.ModelName
	if modelName == "" {
		modelName = defaultModelName(modelPath)
	}

	mgr := manager.NewWithConfig(manager.ManagerConfig{
		ModelPath:    modelPath,
		ModelName:    modelName,
		Engine:       cfg.Engine,
		CtxSize:      cfg.CtxSize,
		Threads:      cfg.Threads,
		GPULayers:    *cfg.GPULayers,
		ServerURL:    cfg.ServerURL,
		ServerAPIKey: cfg.ServerAPIKey,
		IdleTimeout:  cfg.IdleTimeout(),
		PollInterval: cfg.PollInterval(),
		MaxWait:      cfg.MaxWait(),
		Logger:       &log,
		Metrics:      manager.NewMetrics(prometheus.DefaultRegisterer),
	})
	svc := chat.New(mgr, &log)

	httpapi.SetLogger(log)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetRequestTimeout(cfg.RequestTimeout())
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, nil, nil)
	httpapi.SetRequestLogLevel(cfg.RequestLogLevel)

	// runCtx outlives the signal context so in-flight requests can finish
	// during the drain window.
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()
	httpapi.SetBaseContext(runCtx)

	go mgr.Run(runCtx)
	if cfg.Preload {
		// The manager logs preload failures; the first request retries.
		_ = mgr.Preload(runCtx)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return runCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("engine", cfg.Engine).
			Str("model", modelName).
			Str("model_path", modelPath).
			Msg("modelgw listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	cancelRun()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("manager shutdown")
	}
	log.Info().Msg("stopped")
	return nil
}

// defaultModelName derives a public name from the artifact file name.
func defaultModelName(path string) string {
	if path == "" {
		return "default"
	}
	base := filepath.Base(path)
	if ext := filepath.Ext(base); strings.EqualFold(ext, ".gguf") {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// overridden reports whether a flag was given explicitly or via its
// MODELGW_* environment variable.
func overridden(cmd *cobra.Command, name string) bool {
	if cmd.Flags().Changed(name) {
		return true
	}
	_, ok := os.LookupEnv(envName(name))
	return ok
}

func envName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func envStr(flag, def string) string {
	if v, ok := os.LookupEnv(envName(flag)); ok {
		return v
	}
	return def
}

func (c *serveCommander) envInt(flag string, def int) int {
	name := envName(flag)
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		c.envErrs = append(c.envErrs, envError{flag: flag, err: fmt.Errorf("%s=%q: want an integer", name, v)})
		return def
	}
	return n
}

func (c *serveCommander) envBool(flag string, def bool) bool {
	name := envName(flag)
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		c.envErrs = append(c.envErrs, envError{flag: flag, err: fmt.Errorf("%s=%q: want true or false", name, v)})
		return def
	}
	return b
}
