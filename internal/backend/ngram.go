package backend

import (
	"strings"
	"unicode"
)

// NGramGuard tracks every n-token sequence seen so far and rejects a token
// that would repeat one. A guard with n <= 0 allows everything.
type NGramGuard struct {
	n    int
	tail []string
	seen map[string]struct{}
}

// NewNGramGuard returns a guard for sequences of length n.
func NewNGramGuard(n int) *NGramGuard {
	return &NGramGuard{n: n, seen: make(map[string]struct{})}
}

// Seed records tokens (usually the prompt) without checking them.
func (g *NGramGuard) Seed(tokens []string) {
	for _, t := range tokens {
		g.push(t)
	}
}

// Allow reports whether tok can follow the current sequence. Allowed tokens
// are recorded; rejected ones leave the guard unchanged.
func (g *NGramGuard) Allow(tok string) bool {
	if g.n <= 0 {
		return true
	}
	if len(g.tail) >= g.n-1 {
		if _, dup := g.seen[g.key(tok)]; dup {
			return false
		}
	}
	g.push(tok)
	return true
}

func (g *NGramGuard) key(next string) string {
	parts := append(append([]string(nil), g.tail[len(g.tail)-(g.n-1):]...), next)
	return strings.Join(parts, "\x00")
}

func (g *NGramGuard) push(tok string) {
	if g.n <= 0 {
		return
	}
	if len(g.tail) >= g.n-1 {
		g.seen[g.key(tok)] = struct{}{}
	}
	g.tail = append(g.tail, tok)
	if len(g.tail) > g.n {
		g.tail = g.tail[len(g.tail)-g.n:]
	}
}

// TrimRepeats cuts continuation just before the first word that would repeat
// an n-word sequence, counting sequences that started in prompt. Words are
// whitespace separated; the original spacing of the kept text is preserved.
func TrimRepeats(prompt, continuation string, n int) string {
	if n <= 0 {
		return continuation
	}
	g := NewNGramGuard(n)
	g.Seed(strings.Fields(prompt))
	for _, sp := range wordSpans(continuation) {
		if !g.Allow(continuation[sp[0]:sp[1]]) {
			return strings.TrimRightFunc(continuation[:sp[0]], unicode.IsSpace)
		}
	}
	return continuation
}

// LimitWords keeps at most max whitespace-separated words of s.
func LimitWords(s string, max int) string {
	if max <= 0 {
		return s
	}
	spans := wordSpans(s)
	if len(spans) <= max {
		return s
	}
	return s[:spans[max-1][1]]
}

func wordSpans(s string) [][2]int {
	var spans [][2]int
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, [2]int{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, [2]int{start, len(s)})
	}
	return spans
}

// JoinContinuation appends a continuation to a prompt with a single space
// unless either side already supplies whitespace.
func JoinContinuation(prompt, continuation string) string {
	if prompt == "" || continuation == "" {
		return prompt + continuation
	}
	last := rune(prompt[len(prompt)-1])
	first := rune(continuation[0])
	if unicode.IsSpace(last) || unicode.IsSpace(first) {
		return prompt + continuation
	}
	return prompt + " " + continuation
}
