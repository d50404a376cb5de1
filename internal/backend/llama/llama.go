//go:build llama

package llama

import (
	"context"
	"errors"
	"strings"

	gollama "github.com/go-skynet/go-llama.cpp"

	"textgen/internal/backend"
	"textgen/internal/registry"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

func init() { backend.Register(Kind, load) }

// session owns the loaded model for the lifetime of a worker.
type session struct {
	model   *gollama.LLama
	threads int
}

func load(ctx context.Context, opts backend.Options) (backend.Backend, error) {
	path, err := registry.Resolve(opts.ModelsDir, opts.Model)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := gollama.New(path, modelOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return &session{model: m, threads: opts.Threads}, nil
}

func modelOptions(opts backend.Options) []gollama.ModelOption {
	mo := []gollama.ModelOption{
		gollama.SetContext(zn(opts.ContextSize, defaultContextSize)),
	}
	if strings.EqualFold(opts.Precision, "fp16") {
		mo = append(mo, gollama.EnableF16Memory)
	}
	if strings.EqualFold(opts.Device, "gpu") {
		mo = append(mo, gollama.SetGPULayers(zn(opts.GPULayers, allGPULayers)))
	}
	return mo
}

func (s *session) Generate(ctx context.Context, prompt string, maxTokens int, sp backend.Sampling) (string, error) {
	if s.model == nil {
		return "", errors.New("llama model not initialized")
	}
	guard := backend.NewNGramGuard(sp.RepetitionWindow)
	var b strings.Builder
	guarded := false
	s.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if !guard.Allow(tok) {
			guarded = true
			return false
		}
		b.WriteString(tok)
		return true
	})
	text, err := s.model.Predict(prompt, predictOptions(maxTokens, s.threads, sp)...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	if guarded || b.Len() > 0 {
		text = b.String()
	}
	return finish(prompt, text, sp), nil
}

func (s *session) Close() error {
	if s.model != nil {
		s.model.Free()
		s.model = nil
	}
	return nil
}

// predictOptions maps sampling settings onto go-llama.cpp options.
func predictOptions(maxTokens, threads int, sp backend.Sampling) []gollama.PredictOption {
	po := []gollama.PredictOption{
		gollama.SetTokens(max(1, maxTokens)),
		gollama.SetThreads(max(1, threads)),
	}
	if sp.Deterministic {
		po = append(po, gollama.SetTemperature(0), gollama.SetTopK(1))
	} else {
		po = append(po,
			gollama.SetTemperature(zf(sp.Temperature, gollama.DefaultOptions.Temperature)),
			gollama.SetTopK(gollama.DefaultOptions.TopK),
			gollama.SetTopP(gollama.DefaultOptions.TopP),
		)
	}
	if !sp.EarlyStopping {
		po = append(po, gollama.IgnoreEOS)
	}
	return po
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}
