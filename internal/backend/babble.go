package backend

import (
	"context"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// KindBabble is the built-in deterministic generator. It needs no model and
// is what tests and wiring checks run against.
const KindBabble = "babble"

// babbleEOS ends a sequence when early stopping is on.
const babbleEOS = "<eos>"

var babbleVocab = []string{
	"the", "a", "river", "stone", "light", "moves", "under", "quiet", "over",
	"field", "and", "slowly", "bright", "wind", "carries", "small", "birds",
	"toward", "distant", "hills", "while", "evening", "falls", "across", "old",
	"roads", "where", "travellers", "rest", "beside", "warm", "fires", "of",
	"cedar", "leaves", "turn", "golden", "in", "autumn", "rain", "soft",
	"morning", "returns", "with", "patient", "voices", "singing", "low",
	"songs", "about", "home", ",", ".", babbleEOS,
}

type babble struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func loadBabble(ctx context.Context, _ Options) (Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &babble{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}, nil
}

// Generate emits at most maxTokens words chosen by hashing the prompt and the
// previous pick. With Deterministic set the output depends only on the inputs.
func (b *babble) Generate(ctx context.Context, prompt string, maxTokens int, s Sampling) (string, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(prompt))
	state := h.Sum64()
	if !s.Deterministic {
		b.mu.Lock()
		state ^= uint64(b.rng.Int63())
		b.mu.Unlock()
	}

	guard := NewNGramGuard(s.RepetitionWindow)
	guard.Seed(strings.Fields(prompt))

	if maxTokens < 0 {
		maxTokens = 0
	}
	words := make([]string, 0, maxTokens)
	for len(words) < maxTokens {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		pick := ""
		base := int(state % uint64(len(babbleVocab)))
		for k := 0; k < len(babbleVocab); k++ {
			cand := babbleVocab[(base+k)%len(babbleVocab)]
			if cand == babbleEOS {
				if s.EarlyStopping && len(words) > 0 {
					pick = cand
					break
				}
				continue
			}
			if guard.Allow(cand) {
				pick = cand
				break
			}
		}
		if pick == "" || pick == babbleEOS {
			break
		}
		words = append(words, pick)
		state = state*6364136223846793005 + 1442695040888963407 + uint64(base)
	}
	return JoinContinuation(prompt, strings.Join(words, " ")), nil
}

func (b *babble) Close() error { return nil }
