// Package payload implements the Payload Channel: a single file used as a
// one-slot mailbox for text that is too large or too irregular to travel over
// the worker line protocol. The prompt goes in one direction and the generated
// result comes back the other way through the same path.
//
// The channel does no locking and keeps no version. It is only safe because the
// worker protocol never lets two generation requests overlap on one worker:
// the writer always finishes before it signals, and the reader only reads after
// it was signalled. Two sessions sharing one path will corrupt each other;
// NewUnique exists so each supervisor gets its own path.
package payload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/google/uuid"
)

// DefaultPerm is the file mode used for channel contents.
const DefaultPerm os.FileMode = 0o600

// EnvPath names the environment variable through which a supervisor hands the
// channel path to the worker it spawns.
const EnvPath = "TEXTGEN_PAYLOAD"

// DefaultPath is the shared channel used by a worker started without a path.
func DefaultPath() string { return filepath.Join(os.TempDir(), "textgen.payload") }

// Channel is a whole-file-replace mailbox at Path.
type Channel struct {
	Path string
}

// New returns a channel at a fixed path. The parent directory must exist.
func New(path string) *Channel { return &Channel{Path: path} }

// NewUnique returns a channel at a fresh path inside dir (os.TempDir when empty).
// Nothing is created on disk until the first Write.
func NewUnique(dir string) *Channel {
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	name := fmt.Sprintf("textgen-%s.payload", uuid.NewString())
	return &Channel{Path: filepath.Join(dir, name)}
}

// Write replaces the channel contents with text. The replacement is atomic:
// a reader sees either the previous payload or the new one, never a mix or a
// stale tail from a longer previous payload.
func (c *Channel) Write(text string) error {
	if c == nil || c.Path == "" {
		return writeError{path: "", err: errors.New("channel path is empty")}
	}
	if err := renameio.WriteFile(c.Path, []byte(text), DefaultPerm); err != nil {
		return writeError{path: c.Path, err: err}
	}
	return nil
}

// Read returns the full current contents.
func (c *Channel) Read() (string, error) {
	if c == nil || c.Path == "" {
		return "", readError{path: "", err: errors.New("channel path is empty")}
	}
	b, err := os.ReadFile(c.Path)
	if err != nil {
		return "", readError{path: c.Path, err: err}
	}
	return string(b), nil
}

// ReadOrEmpty is the best-effort form of Read: an unreadable channel means
// "no payload available".
func (c *Channel) ReadOrEmpty() string {
	s, err := c.Read()
	if err != nil {
		return ""
	}
	return s
}

// Remove deletes the slot. A missing file is not an error.
func (c *Channel) Remove() error {
	if c == nil || c.Path == "" {
		return nil
	}
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// String returns the channel path.
func (c *Channel) String() string {
	if c == nil {
		return ""
	}
	return c.Path
}
