package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"modelgw/internal/prompt"
	"modelgw/pkg/types"
)

const promptLongDesc = `Render the engine prompt for a chat completion request.

Reads a request body in the /v1/chat/completions format from the given file
("-" for stdin), validates it as the gateway would and prints the prompt text
the model receives.`

func newPromptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prompt <request.json>",
		Short: "Render the prompt for a chat request",
		Long:  promptLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderPrompt(cmd.InOrStdin(), cmd.OutOrStdout(), args[0])
		},
	}
}

func renderPrompt(stdin io.Reader, out io.Writer, path string) error {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	var req types.ChatRequest
	if err := json.Unmarshal(b, &req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	req.Normalize()
	if msg := req.Validate(); msg != "" {
		return fmt.Errorf("invalid request: %s", msg)
	}
	_, err = fmt.Fprint(out, prompt.Build(req.Messages))
	return err
}
