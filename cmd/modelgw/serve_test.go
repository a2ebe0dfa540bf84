package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveConfig_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modelgw.yaml")
	body := "addr: \":9000\"\nmodel_path: /models/a.gguf\nmax_wait_seconds: 5\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cmder := &serveCommander{}
	cmd := cmder.command()
	if err := cmd.ParseFlags([]string{"--config", path, "--max-wait", "7", "--gpu-layers", "0"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := cmder.resolveConfig(cmd)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.ModelPath != "/models/a.gguf" {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.MaxWaitSeconds != 7 {
		t.Fatalf("max wait = %d, want 7", cfg.MaxWaitSeconds)
	}
	if cfg.GPULayers == nil || *cfg.GPULayers != 0 {
		t.Fatalf("explicit gpu-layers 0 not honored: %v", cfg.GPULayers)
	}
	if cfg.IdleTimeoutSeconds != 300 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestResolveConfig_EnvOverridesFile(t *testing.T) {
	t.Setenv("MODELGW_ENGINE", "server")
	t.Setenv("MODELGW_SERVER_URL", "http://127.0.0.1:8080")

	cmder := &serveCommander{}
	cmd := cmder.command()
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatal(err)
	}
	cfg, err := cmder.resolveConfig(cmd)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Engine != "server" || cfg.ServerURL != "http://127.0.0.1:8080" {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestResolveConfig_BadEnvValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modelgw.yaml")
	if err := os.WriteFile(path, []byte("model_path: /models/a.gguf\nctx_size: 8192\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MODELGW_CTX_SIZE", "abc")
	t.Setenv("MODELGW_PRELOAD", "maybe")

	cmder := &serveCommander{}
	cmd := cmder.command()
	if err := cmd.ParseFlags([]string{"--config", path}); err != nil {
		t.Fatal(err)
	}
	if _, err := cmder.resolveConfig(cmd); err == nil || !strings.Contains(err.Error(), "MODELGW_CTX_SIZE") {
		t.Fatalf("expected MODELGW_CTX_SIZE error, got %v", err)
	}

	// Flags given on the command line take the place of the bad values.
	cmder = &serveCommander{}
	cmd = cmder.command()
	if err := cmd.ParseFlags([]string{"--config", path, "--ctx-size", "2048", "--preload=false"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := cmder.resolveConfig(cmd)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.CtxSize != 2048 {
		t.Fatalf("ctx size = %d, want 2048", cfg.CtxSize)
	}
}

func TestResolveConfig_Invalid(t *testing.T) {
	cmder := &serveCommander{}
	cmd := cmder.command()
	if err := cmd.ParseFlags([]string{"--engine", "llama"}); err != nil {
		t.Fatal(err)
	}
	if _, err := cmder.resolveConfig(cmd); err == nil || !strings.Contains(err.Error(), "model_path") {
		t.Fatalf("expected model_path error, got %v", err)
	}
}

func TestDefaultModelName(t *testing.T) {
	cases := map[string]string{
		"/models/gemma-3-12b.gguf": "gemma-3-12b",
		"/models/Other.GGUF":       "Other",
		"/models/raw.bin":          "raw.bin",
		"":                         "default",
	}
	for in, want := range cases {
		if got := defaultModelName(in); got != want {
			t.Fatalf("defaultModelName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderPrompt(t *testing.T) {
	in := strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`)
	var out bytes.Buffer
	if err := renderPrompt(in, &out, "-"); err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "<start_of_turn>user\nhi<end_of_turn>\n<start_of_turn>model\n"
	if out.String() != want {
		t.Fatalf("prompt = %q, want %q", out.String(), want)
	}

	if err := renderPrompt(strings.NewReader(`{"messages":[]}`), &out, "-"); err == nil {
		t.Fatalf("expected validation error")
	}
}
