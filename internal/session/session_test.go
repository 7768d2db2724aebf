package session

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mudpienet/mudpie/internal/dbref"
	"github.com/mudpienet/mudpie/internal/model"
	"github.com/mudpienet/mudpie/internal/script"
)

type fakeWorld struct {
	mu            sync.Mutex
	users         map[string]struct {
		password string
		ref      dbref.DbRef
	}
	scopeObjs     []model.Object
	verbLink      dbref.DbRef
	linkTarget    dbref.DbRef
	linkIsProgram bool
	runResult     *script.Context
	runOutput     []string
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		users: map[string]struct {
			password string
			ref      dbref.DbRef
		}{
			"wizard": {password: "hunter2", ref: 3},
		},
		verbLink:   dbref.FailedMatch,
		linkTarget: dbref.Nothing,
	}
}

func (w *fakeWorld) Authenticate(_ context.Context, username, password string) (dbref.DbRef, error) {
	u, ok := w.users[username]
	if !ok || u.password != password {
		return dbref.Nothing, errFakeAuth
	}
	return u.ref, nil
}

var errFakeAuth = &fakeErr{"bad credentials"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

func (w *fakeWorld) Scope(_ context.Context, _ dbref.DbRef) ([]model.Object, []model.Object, error) {
	return w.scopeObjs, nil, nil
}

func (w *fakeWorld) ResolveVerb(_ context.Context, _ dbref.DbRef, _ string, _, _ dbref.DbRef) dbref.DbRef {
	return w.verbLink
}

func (w *fakeWorld) LinkTarget(_ context.Context, _ dbref.DbRef) (dbref.DbRef, bool, error) {
	return w.linkTarget, w.linkIsProgram, nil
}

func (w *fakeWorld) RunProgram(_ context.Context, _ dbref.DbRef, _ bool, _ script.Globals, onOutputLine func(string)) *script.Context {
	for _, l := range w.runOutput {
		onOutputLine(l)
	}
	return w.runResult
}

func (w *fakeWorld) PlayerLocation(_ context.Context, _ dbref.DbRef) dbref.DbRef {
	return 1
}

func (w *fakeWorld) ProgramName(_ context.Context, ref dbref.DbRef) (string, error) {
	return "", nil
}

func dialConnection(t *testing.T, world World) (*Connection, *bufio.Reader, net.Conn, context.CancelFunc) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	conn := New(serverSide, world, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go conn.Serve(ctx)
	return conn, bufio.NewReader(clientSide), clientSide, cancel
}

func readLineWithTimeout(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		l, err := r.ReadString('\n')
		ch <- result{l, err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("ReadString: %v", res.err)
		}
		return strings.TrimRight(res.line, "\r\n")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a line from the connection")
		return ""
	}
}

func TestServeSendsGreeting(t *testing.T) {
	_, r, client, cancel := dialConnection(t, newFakeWorld())
	defer cancel()
	defer client.Close()

	if got := readLineWithTimeout(t, r); got != greeting {
		t.Fatalf("greeting = %q, want %q", got, greeting)
	}
}

func TestConnectAuthenticatesAndSetsIdentity(t *testing.T) {
	world := newFakeWorld()
	conn, r, client, cancel := dialConnection(t, world)
	defer cancel()
	defer client.Close()

	readLineWithTimeout(t, r) // greeting

	client.Write([]byte("CONNECT wizard hunter2\r\n"))
	time.Sleep(50 * time.Millisecond)

	if got := conn.Identity(); got != 3 {
		t.Fatalf("Identity() = %v, want 3 after successful CONNECT", got)
	}
}

func TestConnectRejectsBadCredentials(t *testing.T) {
	world := newFakeWorld()
	conn, r, client, cancel := dialConnection(t, world)
	defer cancel()
	defer client.Close()

	readLineWithTimeout(t, r) // greeting
	client.Write([]byte("CONNECT wizard wrongpass\r\n"))

	if got := readLineWithTimeout(t, r); got != "500 Unknown command" {
		t.Fatalf("response = %q, want 500 Unknown command", got)
	}
	if conn.Identity() != dbref.Nothing {
		t.Fatalf("Identity() = %v, want Nothing after failed CONNECT", conn.Identity())
	}
}

func TestDispatchUnmatchedVerbPrintsEr(t *testing.T) {
	world := newFakeWorld()
	world.verbLink = dbref.FailedMatch
	_, r, client, cancel := dialConnection(t, world)
	defer cancel()
	defer client.Close()

	readLineWithTimeout(t, r) // greeting
	client.Write([]byte("frobnicate\r\n"))

	if got := readLineWithTimeout(t, r); got != "Er?" {
		t.Fatalf("response = %q, want Er?", got)
	}
}

func TestDispatchAmbiguousVerbPrintsWhichOne(t *testing.T) {
	world := newFakeWorld()
	world.verbLink = dbref.Ambiguous
	_, r, client, cancel := dialConnection(t, world)
	defer cancel()
	defer client.Close()

	readLineWithTimeout(t, r) // greeting
	client.Write([]byte("look\r\n"))

	if got := readLineWithTimeout(t, r); got != "Which one?" {
		t.Fatalf("response = %q, want Which one?", got)
	}
}

func TestDispatchSpawnsProgramAndReportsOutcome(t *testing.T) {
	world := newFakeWorld()
	world.verbLink = 7
	world.linkTarget = 8
	world.linkIsProgram = true
	world.runOutput = []string{"a message"}
	world.runResult = &script.Context{State: script.StateAborted}

	_, r, client, cancel := dialConnection(t, world)
	defer cancel()
	defer client.Close()

	readLineWithTimeout(t, r) // greeting
	client.Write([]byte("cast spell\r\n"))

	if got := readLineWithTimeout(t, r); got != "a message" {
		t.Fatalf("program output line = %q, want %q", got, "a message")
	}
	if got := readLineWithTimeout(t, r); got != "Aborted." {
		t.Fatalf("outcome line = %q, want Aborted.", got)
	}
}

func TestBeginInteractiveRoutesLinesToProgram(t *testing.T) {
	world := newFakeWorld()
	conn, r, client, cancel := dialConnection(t, world)
	defer cancel()
	defer client.Close()

	readLineWithTimeout(t, r) // greeting

	in, cleanup := conn.BeginInteractive()
	defer cleanup()

	client.Write([]byte("hello there\r\n"))

	select {
	case got := <-in:
		if got != "hello there" {
			t.Fatalf("program received %q, want %q", got, "hello there")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("program never received the interactive line")
	}
}
