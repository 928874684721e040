package main

import (
	"github.com/opencode-ai/opencode-lsp/cmd"
)

func main() {
	cmd.Execute()
}
