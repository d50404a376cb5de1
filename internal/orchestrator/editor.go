package orchestrator

import (
	"errors"
	"sync"
)

// Editor is what the orchestrator needs from the host editor.
type Editor interface {
	// ExtractSelection returns the text the user selected.
	ExtractSelection() (string, error)
	// ReplaceSelection puts text where the selection was.
	ReplaceSelection(text string) error
	// PromptUser asks a question and returns the answer.
	PromptUser(msg string) (string, error)
	// NotifyUser shows a message.
	NotifyUser(msg string)
}

// ErrNoAnswer is returned by Buffer.PromptUser when no answer was preset.
var ErrNoAnswer = errors.New("no answer available")

// Buffer is an in-memory Editor. Front ends without a live editor (the HTTP
// API, the stdin filter) fill Selection and Answer, run a command, then read
// Result and Messages.
type Buffer struct {
	mu        sync.Mutex
	selection string
	answer    *string
	result    string
	replaced  bool
	messages  []string
}

// NewBuffer returns a Buffer holding selection.
func NewBuffer(selection string) *Buffer {
	return &Buffer{selection: selection, result: selection}
}

// WithAnswer presets the reply to the next prompts.
func (b *Buffer) WithAnswer(a string) *Buffer {
	b.mu.Lock()
	b.answer = &a
	b.mu.Unlock()
	return b
}

func (b *Buffer) ExtractSelection() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selection, nil
}

func (b *Buffer) ReplaceSelection(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.result = text
	b.replaced = text != b.selection
	return nil
}

func (b *Buffer) PromptUser(msg string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	if b.answer == nil {
		return "", ErrNoAnswer
	}
	return *b.answer, nil
}

func (b *Buffer) NotifyUser(msg string) {
	b.mu.Lock()
	b.messages = append(b.messages, msg)
	b.mu.Unlock()
}

// Result returns the buffer text after the last replacement and whether it
// differs from the selection.
func (b *Buffer) Result() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result, b.replaced
}

// Messages returns everything shown to the user so far.
func (b *Buffer) Messages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.messages...)
}
