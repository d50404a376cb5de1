// Package llama registers the in-process llama.cpp backend. The real runtime
// is compiled only with -tags=llama; default builds stay CGO-free and report
// the backend as unavailable.
package llama

import "textgen/internal/backend"

// Kind is the backend kind name.
const Kind = "llama"

const (
	defaultContextSize = 2048
	// allGPULayers offloads every layer when device=gpu and no count is given.
	allGPULayers = 999
)

// Built reports whether this binary carries the llama runtime.
func Built() bool { return llamaBuilt }

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// finish appends text to prompt after cutting it before the first word that
// repeats an n-gram of the prompt or of the text itself. The token callback
// only sees generated pieces, so prompt n-grams are enforced here.
func finish(prompt, text string, sp backend.Sampling) string {
	return prompt + backend.TrimRepeats(prompt, text, sp.RepetitionWindow)
}
