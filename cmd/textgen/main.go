// Command textgen drives text generation for editors. The serve, generate and
// repl commands front a generation worker; the worker command is that worker.
package main

import (
	"fmt"
	"os"

	// Backend kinds register themselves with the backend package.
	_ "textgen/internal/backend/llama"
	_ "textgen/internal/backend/remote"
	"textgen/internal/worker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "textgen:", err)
		if worker.IsStartupError(err) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}
