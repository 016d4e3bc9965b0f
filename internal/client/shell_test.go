package client

import (
	"fmt"
	"io"
	"os"
	"testing"
)

func TestSplitFirst(t *testing.T) {
	cases := []struct{ in, head, rest string }{
		{"attach 1234", "attach", "1234"},
		{"detach", "detach", ""},
		{"attach  padded", "attach", " padded"},
	}
	for _, c := range cases {
		head, rest := splitFirst(c.in)
		if head != c.head || rest != c.rest {
			t.Errorf("splitFirst(%q) = (%q, %q), want (%q, %q)", c.in, head, rest, c.head, c.rest)
		}
	}
}

func TestResolveTargetMatchesLiveNumericTarget(t *testing.T) {
	pid := os.Getpid() + 910000
	sockPath := fmt.Sprintf("/tmp/rust_shell_cmd_%d", pid)
	if err := os.WriteFile(sockPath, nil, 0644); err != nil {
		t.Fatal(err)
	}
	defer os.Remove(sockPath)

	got, err := resolveTarget(fmt.Sprintf("%d", pid))
	if err != nil {
		t.Fatalf("resolveTarget: %v", err)
	}
	if got != pid {
		t.Fatalf("resolveTarget = %d, want %d", got, pid)
	}
}

func TestResolveTargetRejectsNumericArgWithNoLiveMatch(t *testing.T) {
	// A pid unlikely to have a bound socket in this process tree.
	bogus := os.Getpid() + 920000
	if _, err := resolveTarget(fmt.Sprintf("%d", bogus)); err == nil {
		t.Fatal("expected ErrNoSuchTarget for a pid with no bound socket")
	}
}

func TestRunReturnsNilOnCleanEOF(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	w.Close() // EOF on the read side immediately

	sh := NewShell(r, io.Discard)
	defer sh.Close()

	if err := sh.Run(); err != nil {
		t.Fatalf("Run() = %v, want nil on clean EOF", err)
	}
}

func TestRunPropagatesFatalEditorError(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	r.Close() // already-closed read end: a genuine I/O error, not io.EOF

	sh := NewShell(r, io.Discard)
	defer sh.Close()

	if err := sh.Run(); err == nil {
		t.Fatal("Run() = nil, want a propagated fatal editor error")
	}
}
