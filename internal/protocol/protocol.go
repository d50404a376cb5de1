// Package protocol defines the line protocol spoken between the supervisor
// and a generation worker over the worker's stdin and stdout.
//
//	supervisor -> worker   generate [<budget>]
//	supervisor -> worker   quit
//	worker -> supervisor   ready
//	worker -> supervisor   error <message>
//	worker -> supervisor   done
//
// Only control signals travel here. Prompts and results go through the
// payload channel.
package protocol

import (
	"strconv"
	"strings"
)

// Worker to supervisor sentinels.
const (
	LineReady = "ready"
	LineDone  = "done"
	LineError = "error"
)

// Supervisor to worker command words.
const (
	WordGenerate = "generate"
	WordQuit     = "quit"
)

// Kind tags a parsed command.
type Kind int

const (
	KindUnknown Kind = iota
	KindGenerate
	KindQuit
)

func (k Kind) String() string {
	switch k {
	case KindGenerate:
		return "generate"
	case KindQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Command is one parsed supervisor line.
type Command struct {
	Kind Kind
	// Budget is the requested length budget; only meaningful when HasBudget.
	Budget    int
	HasBudget bool
	// Malformed is set when a generate argument was present but unusable.
	Malformed bool
	// Raw is the argument text after the command word, trimmed.
	Raw string
}

// ParseCommand never fails. Lines are matched by prefix, as the worker always
// has; an unusable budget leaves HasBudget false so the caller applies its
// default. maxBudget <= 0 disables the upper bound.
func ParseCommand(line string, maxBudget int) Command {
	l := strings.TrimRight(line, "\r\n")
	switch {
	case strings.HasPrefix(l, WordGenerate):
		arg := strings.TrimSpace(l[len(WordGenerate):])
		cmd := Command{Kind: KindGenerate, Raw: arg}
		if arg == "" {
			return cmd
		}
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 || (maxBudget > 0 && n > maxBudget) {
			cmd.Malformed = true
			return cmd
		}
		cmd.Budget = n
		cmd.HasBudget = true
		return cmd
	case strings.HasPrefix(l, WordQuit):
		return Command{Kind: KindQuit}
	default:
		return Command{Kind: KindUnknown, Raw: l}
	}
}

// FormatGenerate renders a generate command line without the newline.
// A non-positive budget sends the bare command so the worker uses its default.
func FormatGenerate(budget int) string {
	if budget <= 0 {
		return WordGenerate
	}
	return WordGenerate + " " + strconv.Itoa(budget)
}

// FormatError renders an error line. Newlines in msg are flattened so the
// message cannot break framing.
func FormatError(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	if msg == "" {
		return LineError
	}
	return LineError + " " + msg
}

// Reply classifies one worker output line.
type Reply struct {
	Ready   bool
	Done    bool
	Err     bool
	Message string
}

// ParseReply classifies a worker line. Unrecognised lines yield the zero Reply.
func ParseReply(line string) Reply {
	l := strings.TrimSpace(line)
	switch {
	case l == LineDone:
		return Reply{Done: true}
	case l == LineReady:
		return Reply{Ready: true}
	case l == LineError:
		return Reply{Err: true}
	case strings.HasPrefix(l, LineError+" "):
		return Reply{Err: true, Message: strings.TrimSpace(l[len(LineError):])}
	}
	return Reply{}
}
