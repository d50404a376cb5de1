package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"textgen/internal/common/fsutil"
	"textgen/internal/orchestrator"
)

const replHelp = `Type text and press enter to extend it. Commands:
  :tokens N   set the session length budget
  :model      choose another model
  :models     list model files
  :restart    restart the worker
  :stop       stop the worker
  :status     show settings and worker state
  :exit       leave`

func newReplCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive prompt: each line is a selection to extend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			a, err := newApp(opts, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			history := ""
			if dir := filepath.Dir(a.store.Path()); a.store.Path() != "" {
				history = filepath.Join(dir, "repl_history")
			} else if p, err := fsutil.ExpandHome("~/.textgen/repl_history"); err == nil {
				history = p
			}
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "textgen> ",
				HistoryFile:     history,
				InterruptPrompt: "^C",
				EOFPrompt:       ":exit",
			})
			if err != nil {
				return err
			}
			defer rl.Close()

			if err := a.start(cmd.Context()); err != nil {
				fmt.Fprintln(rl.Stderr(), "Error: "+err.Error())
			}
			fmt.Fprintln(rl.Stdout(), replHelp)
			r := &repl{orch: a.orch, out: rl.Stdout(), ask: func(q string) (string, error) {
				fmt.Fprint(rl.Stdout(), q)
				rl.SetPrompt("? ")
				defer rl.SetPrompt("textgen> ")
				return rl.Readline()
			}}
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if err != nil {
					return nil
				}
				if r.exec(cmd.Context(), line) {
					return nil
				}
			}
		},
	}
}

// repl dispatches one input line at a time.
type repl struct {
	orch *orchestrator.Orchestrator
	out  io.Writer
	ask  func(q string) (string, error)
}

// exec runs line and reports whether the session should end.
func (r *repl) exec(ctx context.Context, line string) bool {
	if strings.TrimSpace(line) == "" {
		return false
	}
	if !strings.HasPrefix(line, ":") {
		ed := &lineEditor{selection: line, out: r.out, ask: r.ask}
		_ = r.orch.Generate(ctx, ed)
		return false
	}
	fields := strings.Fields(line)
	ed := &lineEditor{out: r.out, ask: r.ask}
	switch fields[0] {
	case ":exit", ":q":
		return true
	case ":help":
		fmt.Fprintln(r.out, replHelp)
	case ":tokens":
		if len(fields) != 2 {
			ed.NotifyUser("usage: :tokens N")
			return false
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			ed.NotifyUser("Error: " + fields[1] + " is not a number")
			return false
		}
		_ = r.orch.ChangeTokenLength(ed, n)
	case ":model":
		_ = r.orch.ChangeModel(ctx, ed)
	case ":models":
		models := r.orch.ListModels()
		if len(models) == 0 {
			ed.NotifyUser("no model files found")
		}
		for _, m := range models {
			fmt.Fprintf(r.out, "%s\t%s\n", m.ID, m.Path)
		}
	case ":restart":
		_ = r.orch.Restart(ctx, ed)
	case ":stop":
		_ = r.orch.Quit(ed)
	case ":status":
		b, _ := json.MarshalIndent(r.orch.Status(), "", "  ")
		fmt.Fprintln(r.out, string(b))
	default:
		ed.NotifyUser("unknown command " + fields[0] + " (:help lists commands)")
	}
	return false
}

// lineEditor is the Editor behind the repl: the typed line is the selection
// and the replacement is printed.
type lineEditor struct {
	selection string
	out       io.Writer
	ask       func(q string) (string, error)
}

func (e *lineEditor) ExtractSelection() (string, error) { return e.selection, nil }

func (e *lineEditor) ReplaceSelection(text string) error {
	_, err := fmt.Fprintln(e.out, text)
	return err
}

func (e *lineEditor) PromptUser(msg string) (string, error) {
	if e.ask == nil {
		return "", orchestrator.ErrNoAnswer
	}
	return e.ask(msg)
}

func (e *lineEditor) NotifyUser(msg string) { fmt.Fprintln(e.out, msg) }
