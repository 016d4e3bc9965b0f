package client

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ehrlich-b/inshell/internal/discover"
)

// forwardPacing is the small delay after forwarding an unknown command to
// the target, before the next prompt is shown (spec §4.E).
const forwardPacing = 10 * time.Millisecond

// builtins is the small vocabulary the client handles itself instead of
// forwarding to a target (spec §1, component E): attach, detach, exit.
var builtins = []string{"attach", "detach", "exit"}

// Shell drives one interactive REPL: the line editor, the completion
// table, and whichever Session is currently attached (nil when detached).
type Shell struct {
	editor  *LineEditor
	table   *completionTable
	out     io.Writer
	watcher *discover.Watcher

	session *Session
}

// NewShell builds a Shell reading from in and writing to out. The
// completer starts seeded with the built-in vocabulary plus known
// targets; it is swapped to a target's own command names while attached.
func NewShell(in *os.File, out io.Writer) *Shell {
	table := newCompletionTable(builtins)

	sh := &Shell{
		editor: NewLineEditor(in, out),
		table:  table,
		out:    out,
	}
	sh.editor.SetPrompt("dshell> ")
	sh.editor.SetCompleter(newCompleterChain(table).Complete)

	if w, err := discover.NewWatcher(); err == nil {
		sh.watcher = w
		go sh.watchTargets()
	}
	return sh
}

// watchTargets refreshes the detached completion table's target
// candidates whenever a command socket appears or disappears, so the
// fallback table's pid/name entries stay current without polling. (The
// attach-argument completer link rescans targets itself on each Tab.)
func (sh *Shell) watchTargets() {
	for range sh.watcher.Events {
		if sh.session != nil {
			continue // attached: table is showing the target's own commands
		}
		sh.refreshDetachedCandidates()
	}
}

func (sh *Shell) refreshDetachedCandidates() {
	targets, err := discover.Scan()
	if err != nil {
		return
	}
	names := append([]string{}, builtins...)
	for _, t := range targets {
		names = append(names, strconv.Itoa(t.PID))
		if t.Name != "" {
			names = append(names, t.Name)
		}
	}
	sh.table.SetFallback(names)
}

// Close releases the shell's background resources (the target watcher
// and, if attached, the live session).
func (sh *Shell) Close() {
	if sh.watcher != nil {
		sh.watcher.Close()
	}
	if sh.session != nil {
		sh.session.Detach()
	}
}

// Run drives the REPL until `exit`, clean EOF/Ctrl-D (nil), or a fatal
// editor error (non-nil, surfaced to the caller for a nonzero exit code
// per spec §6/§7 — only `exit` and io.EOF end the session quietly).
func (sh *Shell) Run() error {
	sh.refreshDetachedCandidates()
	for {
		raw, err := sh.editor.ReadLine()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("client: read line: %w", err)
		}
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		sh.editor.AddHistory(line)

		if done, err := sh.dispatchBuiltin(line); done {
			if err != nil {
				fmt.Fprintln(sh.out, err)
			}
			if line == "exit" {
				return nil
			}
			continue
		}

		if sh.session == nil {
			fmt.Fprintln(sh.out, ErrNotAttached)
			continue
		}
		// raw, not line: unknown commands forward the original,
		// pre-trim line (spec §4.E).
		if err := sh.session.Send(raw); err != nil {
			fmt.Fprintln(sh.out, err)
		}
		time.Sleep(forwardPacing)
	}
}

// dispatchBuiltin handles attach/detach/exit locally. done reports
// whether line was a built-in (whether or not it also errored).
func (sh *Shell) dispatchBuiltin(line string) (done bool, err error) {
	cmd, rest := splitFirst(line)
	switch cmd {
	case "attach":
		return true, sh.attach(strings.TrimSpace(rest))
	case "detach":
		return true, sh.detach()
	case "exit":
		return true, nil
	default:
		return false, nil
	}
}

func splitFirst(line string) (head, rest string) {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i], line[i+1:]
	}
	return line, ""
}

// attach resolves arg (a pid or, uniquely, a process name) against live
// targets and attaches to it, evicting any current session first.
func (sh *Shell) attach(arg string) error {
	if arg == "" {
		return fmt.Errorf("client: attach requires a pid or name")
	}
	if sh.session != nil {
		sh.detach()
	}

	pid, err := resolveTarget(arg)
	if err != nil {
		return err
	}

	s, err := Attach(pid, sh.out)
	if err != nil {
		return fmt.Errorf("client: attach %d: %w", pid, err)
	}
	sh.session = s
	sh.table.SetFallback(s.Names())
	sh.editor.SetPrompt(fmt.Sprintf("dshell[%d]> ", pid))
	fmt.Fprintf(sh.out, "attached to pid %d\n", pid)
	return nil
}

func (sh *Shell) detach() error {
	if sh.session == nil {
		return ErrNotAttached
	}
	err := sh.session.Detach()
	sh.session = nil
	sh.editor.SetPrompt("dshell> ")
	sh.refreshDetachedCandidates()
	return err
}

// resolveTarget accepts either a literal pid or a process name and finds
// a unique match against live targets either way (spec §4.E); a pid or
// name matching anything other than exactly one target is an error.
func resolveTarget(arg string) (int, error) {
	targets, err := discover.Scan()
	if err != nil {
		return 0, fmt.Errorf("client: scan targets: %w", err)
	}

	var matches []discover.Target
	if pid, err := strconv.Atoi(arg); err == nil {
		for _, t := range targets {
			if t.PID == pid {
				matches = append(matches, t)
			}
		}
	} else {
		for _, t := range targets {
			if t.Name == arg {
				matches = append(matches, t)
			}
		}
	}

	switch len(matches) {
	case 0:
		return 0, fmt.Errorf("%w: %s", ErrNoSuchTarget, arg)
	case 1:
		return matches[0].PID, nil
	default:
		return 0, fmt.Errorf("%w: %s matches %d targets", ErrAmbiguousTarget, arg, len(matches))
	}
}
