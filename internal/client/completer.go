package client

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ehrlich-b/inshell/internal/discover"
)

// Candidate is one completion option: the text to splice in and the text
// to display (which may carry extra context, e.g. "1234  myserver").
type Candidate struct {
	Completion string
	Display    string
}

// completionTable is the shared, read-mostly completion source behind the
// editor's Tab key. attach injects target-supplied command names into it
// once a session starts; detach swaps them back to the built-in vocabulary
// plus the pids and names of live targets.
type completionTable struct {
	mu      sync.RWMutex
	entries []Candidate
}

func newCompletionTable(builtins []string) *completionTable {
	t := &completionTable{}
	t.SetFallback(builtins)
	return t
}

// SetFallback replaces the table's contents wholesale — used both to seed
// the built-in vocabulary and to swap in a target's registered command
// names on attach.
func (t *completionTable) SetFallback(names []string) {
	entries := make([]Candidate, len(names))
	for i, n := range names {
		entries[i] = Candidate{Completion: n, Display: n}
	}
	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()
}

func (t *completionTable) snapshot() []Candidate {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Candidate, len(t.entries))
	copy(out, t.entries)
	return out
}

// Complete implements the three-tier match order: case-sensitive prefix,
// then case-insensitive prefix, then case-insensitive substring. Each
// tier only contributes candidates if the previous tier found none, and
// within a tier results are sorted by completion text.
func (t *completionTable) Complete(prefix string) []Candidate {
	entries := t.snapshot()

	if exact := filterCandidates(entries, prefix, strings.HasPrefix); len(exact) > 0 {
		return exact
	}

	lowerPrefix := strings.ToLower(prefix)
	ciPrefix := func(s, p string) bool { return strings.HasPrefix(strings.ToLower(s), p) }
	if ci := filterCandidates(entries, lowerPrefix, ciPrefix); len(ci) > 0 {
		return ci
	}

	ciSubstr := func(s, p string) bool { return strings.Contains(strings.ToLower(s), p) }
	return filterCandidates(entries, lowerPrefix, ciSubstr)
}

func filterCandidates(entries []Candidate, needle string, match func(s, p string) bool) []Candidate {
	var out []Candidate
	for _, e := range entries {
		if match(e.Completion, needle) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Completion < out[j].Completion })
	return out
}

// completerChain implements the ordered completer chain from spec §4.E:
// "attach-argument" (applicable when the buffer's first word is attach),
// then path completion (applicable when the current word is not the
// whole trimmed buffer), then the fallback table's three-tier match. The
// first applicable link that returns a non-empty candidate list wins; an
// applicable link that comes up empty just falls through to the next.
type completerChain struct {
	table *completionTable
}

func newCompleterChain(table *completionTable) *completerChain {
	return &completerChain{table: table}
}

// Complete is wired in as the editor's Tab callback.
func (c *completerChain) Complete(word, buf string) []Candidate {
	if firstWord(buf) == "attach" {
		if candidates := attachArgumentCandidates(word); len(candidates) > 0 {
			return candidates
		}
	}
	if word != strings.TrimSpace(buf) {
		if candidates := pathCandidates(word); len(candidates) > 0 {
			return candidates
		}
	}
	return c.table.Complete(word)
}

func firstWord(buf string) string {
	fields := strings.Fields(buf)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// attachArgumentCandidates completes a partial pid or process name against
// the live process list, reusing completionTable's own tiered match so an
// in-progress name prefix behaves the same as fallback completion.
func attachArgumentCandidates(word string) []Candidate {
	targets, err := discover.Scan()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(targets)*2)
	for _, t := range targets {
		names = append(names, strconv.Itoa(t.PID))
		if t.Name != "" {
			names = append(names, t.Name)
		}
	}
	return newCompletionTable(names).Complete(word)
}

// pathCandidates lists filesystem entries completing word as a path,
// appending "/" to directory results so a following Tab can descend
// further.
func pathCandidates(word string) []Candidate {
	dir, prefix := filepath.Split(word)
	lookDir := dir
	if lookDir == "" {
		lookDir = "."
	}
	entries, err := os.ReadDir(lookDir)
	if err != nil {
		return nil
	}

	var out []Candidate
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		completion := dir + name
		display := name
		if e.IsDir() {
			completion += "/"
			display += "/"
		}
		out = append(out, Candidate{Completion: completion, Display: display})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Completion < out[j].Completion })
	return out
}
