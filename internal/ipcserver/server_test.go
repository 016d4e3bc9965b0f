package ipcserver

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ehrlich-b/inshell/internal/proto"
	"github.com/ehrlich-b/inshell/internal/registry"
)

// nextTestPID picks a PID-shaped integer unlikely to collide across parallel
// test runs on the same host; the server does not care whether it names a
// live process.
var testPIDCounter int64 = 900000

func nextTestPID() int {
	testPIDCounter++
	return int(testPIDCounter)
}

func startTestServer(t *testing.T, reg *registry.Registry) *Server {
	t.Helper()
	s := New(reg, nextTestPID())
	ctx, cancel := context.WithCancel(context.Background())

	ready := make(chan error, 1)
	go func() {
		ready <- s.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(s.CmdPath()); err == nil {
			if _, err := os.Stat(s.OutputPath()); err == nil {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server sockets never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Cleanup(func() {
		cancel()
		<-ready
	})
	return s
}

func dialOutput(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("unix", s.OutputPath())
	if err != nil {
		t.Fatalf("dial output: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	// Give attachOutputPeer a moment to run before a command is sent, or
	// the earliest banner lines could still be headed to the pre-attach
	// saved stdout.
	time.Sleep(20 * time.Millisecond)
	return conn, bufio.NewReader(conn)
}

func dialCmd(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("unix", s.CmdPath())
	if err != nil {
		t.Fatalf("dial cmd: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func baseRegistry() *registry.Registry {
	reg := registry.New()
	reg.Insert("hello", func() {
		fmt.Println("Hello, world!")
	})
	reg.Insert("add_two", func(a, b int64) int64 {
		sum := a + b
		fmt.Printf("%d + %d = %d\n", a, b, sum)
		return sum
	})
	reg.Insert("print_str", func(s string) {
		fmt.Println(s)
	})
	reg.Insert("add_seven", func(a, b, c, d, e, f, g int64) int64 {
		sum := a + b + c + d + e + f + g
		fmt.Printf("%d + %d + %d + %d + %d + %d + %d = %d\n", a, b, c, d, e, f, g, sum)
		return sum
	})
	return reg
}

// TestS1ZeroArgCall is S1: a zero-arg entry point's banners and stdout
// line arrive over the output channel, in order.
func TestS1ZeroArgCall(t *testing.T) {
	s := startTestServer(t, baseRegistry())

	_, outR := dialOutput(t, s)
	cmdConn, cmdR := dialCmd(t, s)

	names, err := proto.ReadLine(cmdR)
	if err != nil {
		t.Fatalf("read command-list banner: %v", err)
	}
	if !strings.Contains(names, "hello") {
		t.Errorf("command-list banner %q missing hello", names)
	}

	if err := proto.WriteLine(cmdConn, "hello"); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	begin, err := proto.ReadLine(outR)
	if err != nil {
		t.Fatalf("read begin banner: %v", err)
	}
	if !strings.Contains(begin, "---[begin to excel func hello]---") {
		t.Errorf("begin banner = %q", begin)
	}

	body, err := proto.ReadLine(outR)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if body != "Hello, world!" {
		t.Errorf("body = %q, want %q", body, "Hello, world!")
	}

	end, err := proto.ReadLine(outR)
	if err != nil {
		t.Fatalf("read end banner: %v", err)
	}
	if !strings.Contains(end, "---[end to excel func hello]") {
		t.Errorf("end banner = %q", end)
	}
}

// TestS2TwoInts is S2.
func TestS2TwoInts(t *testing.T) {
	s := startTestServer(t, baseRegistry())
	_, outR := dialOutput(t, s)
	cmdConn, _ := dialCmd(t, s)

	if err := proto.WriteLine(cmdConn, "add_two 3,4"); err != nil {
		t.Fatalf("write: %v", err)
	}

	proto.ReadLine(outR) // begin banner
	body, err := proto.ReadLine(outR)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if body != "3 + 4 = 7" {
		t.Errorf("body = %q, want %q", body, "3 + 4 = 7")
	}
	end, err := proto.ReadLine(outR)
	if err != nil {
		t.Fatalf("read end banner: %v", err)
	}
	// The banner is SGR-wrapped, so drop the trailing reset before checking
	// that its text ends with the result.
	if !strings.HasSuffix(strings.TrimSuffix(strings.TrimSuffix(end, "\x1b[0m"), "---"), "7") {
		t.Errorf("end banner %q does not end with 7", end)
	}
}

// TestS3StringArg is S3.
func TestS3StringArg(t *testing.T) {
	s := startTestServer(t, baseRegistry())
	_, outR := dialOutput(t, s)
	cmdConn, _ := dialCmd(t, s)

	if err := proto.WriteLine(cmdConn, `print_str "hello, world"`); err != nil {
		t.Fatalf("write: %v", err)
	}

	proto.ReadLine(outR) // begin banner
	body, err := proto.ReadLine(outR)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if body != "hello, world" {
		t.Errorf("body = %q, want %q", body, "hello, world")
	}
}

// TestS4SevenInts is S4.
func TestS4SevenInts(t *testing.T) {
	s := startTestServer(t, baseRegistry())
	_, outR := dialOutput(t, s)
	cmdConn, _ := dialCmd(t, s)

	if err := proto.WriteLine(cmdConn, "add_seven 1,2,3,4,5,6,7"); err != nil {
		t.Fatalf("write: %v", err)
	}

	proto.ReadLine(outR) // begin banner
	body, err := proto.ReadLine(outR)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if body != "1 + 2 + 3 + 4 + 5 + 6 + 7 = 28" {
		t.Errorf("body = %q", body)
	}
	end, err := proto.ReadLine(outR)
	if err != nil {
		t.Fatalf("read end banner: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSuffix(strings.TrimSuffix(end, "\x1b[0m"), "---"), "28") {
		t.Errorf("end banner %q does not end with 28", end)
	}
}

// TestS5UnknownCommand is S5: an unknown command reports "<name> not
// found" and the server remains responsive to a subsequent valid command.
func TestS5UnknownCommand(t *testing.T) {
	s := startTestServer(t, baseRegistry())
	_, outR := dialOutput(t, s)
	cmdConn, _ := dialCmd(t, s)

	if err := proto.WriteLine(cmdConn, "nope"); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := proto.ReadLine(outR)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "nope not found" {
		t.Errorf("line = %q, want %q", line, "nope not found")
	}

	if err := proto.WriteLine(cmdConn, "hello"); err != nil {
		t.Fatalf("write follow-up: %v", err)
	}
	begin, err := proto.ReadLine(outR)
	if err != nil {
		t.Fatalf("read begin banner after recovery: %v", err)
	}
	if !strings.Contains(begin, "hello") {
		t.Errorf("begin banner after recovery = %q", begin)
	}
}

// TestS6AttachEviction is S6: a second output peer evicts the first; the
// first observes EOF, and fd 1 is restored once the second detaches too.
func TestS6AttachEviction(t *testing.T) {
	s := startTestServer(t, baseRegistry())

	connA, err := net.Dial("unix", s.OutputPath())
	if err != nil {
		t.Fatalf("dial A: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	readerDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 64)
		for {
			if _, err := connA.Read(buf); err != nil {
				close(readerDone)
				return
			}
		}
	}()

	connB, err := net.Dial("unix", s.OutputPath())
	if err != nil {
		t.Fatalf("dial B: %v", err)
	}
	defer connB.Close()

	select {
	case <-readerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("A's output copier never observed EOF after eviction")
	}
	wg.Wait()

	bR := bufio.NewReader(connB)
	cmdConn, _ := dialCmd(t, s)
	if err := proto.WriteLine(cmdConn, "hello"); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	begin, err := proto.ReadLine(bR)
	if err != nil {
		t.Fatalf("B read begin banner: %v", err)
	}
	if !strings.Contains(begin, "hello") {
		t.Errorf("B begin banner = %q", begin)
	}

	connB.Close()
	time.Sleep(50 * time.Millisecond)

	s.redirMu.Lock()
	active := s.redir
	s.redirMu.Unlock()
	if active != nil {
		t.Error("expected no active redirection after B detached")
	}
}

// TestServerDestructionUnlinksSockets is invariant 6: after Server.Run
// returns, neither socket path exists.
func TestServerDestructionUnlinksSockets(t *testing.T) {
	reg := baseRegistry()
	s := New(reg, nextTestPID())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(s.CmdPath()); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cmd socket never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if _, err := os.Stat(s.CmdPath()); err == nil {
		t.Error("cmd socket path still exists after shutdown")
	}
	if _, err := os.Stat(s.OutputPath()); err == nil {
		t.Error("output socket path still exists after shutdown")
	}
}
