package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const rootLongDesc = `modelgw serves one local GGUF model behind an OpenAI-compatible
chat completions API. The model is loaded on first use and released after a
period of inactivity.

Settings come from (lowest to highest precedence) built-in defaults, a config
file (--config, .yaml/.json/.toml), MODELGW_* environment variables (a .env
file in the working directory is honored) and command-line flags.`

func main() {
	// A missing .env is fine; the environment may be set another way.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "modelgw",
		Short:         "Single-model inference gateway",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCmd(), newPromptCmd())
	return cmd
}
