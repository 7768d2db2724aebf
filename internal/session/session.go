// Package session implements the per-connection protocol state machine
// (spec §4.8, C8): line assembly over CRLF, the Normal/InteractiveProgram
// mode switch, built-in command handling (CONNECT), and dispatch of
// ordinary input into matching and program execution.
//
// The read/dispatch loop is shaped after ui/chat.go's Run loop (read a
// line, parse it, route to a handler, print errors), adapted from a
// local readline REPL to a remote line-oriented TCP connection; output
// formatting follows the fixed client-visible vocabulary of spec §6
// rather than ui/chat.go's ANSI-colored fmt.Printf, replaced here with
// structured go.uber.org/zap logging for anything operator-facing.
package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mudpienet/mudpie/internal/cmdparse"
	"github.com/mudpienet/mudpie/internal/dbref"
	"github.com/mudpienet/mudpie/internal/match"
	"github.com/mudpienet/mudpie/internal/model"
	"github.com/mudpienet/mudpie/internal/script"
)

// Mode is the connection's inbound-routing state (spec §4.8).
type Mode int

const (
	ModeNormal Mode = iota
	ModeInteractiveProgram
)

const (
	greeting = "200 Service available, posting allowed"
	goodbye  = "GOODBYE!"
)

// World is everything a Connection needs from the rest of the server to
// authenticate, match and dispatch commands. mudserver supplies the
// concrete implementation wired to store/compcache/script.
type World interface {
	// Authenticate validates username/password against the Player
	// record and returns its dbref on success.
	Authenticate(ctx context.Context, username, password string) (dbref.DbRef, error)
	// Scope returns the player's carried contents and the contents of
	// their current location, per spec §4.5's matchObject scope.
	Scope(ctx context.Context, player dbref.DbRef) (carried, here []model.Object, err error)
	// ResolveVerb matches verbText to a Link in scope or on the
	// resolved direct/indirect objects (spec §4.5's matchVerb).
	ResolveVerb(ctx context.Context, player dbref.DbRef, verbText string, directObj, indirectObj dbref.DbRef) dbref.DbRef
	// LinkTarget returns what a Link points at, and whether that
	// target is a Program.
	LinkTarget(ctx context.Context, link dbref.DbRef) (target dbref.DbRef, isProgram bool, err error)
	// RunProgram invokes the script engine for a resolved program
	// target; see script.Engine.RunProgram.
	RunProgram(ctx context.Context, programRef dbref.DbRef, authenticated bool, globals script.Globals, onOutputLine func(string)) *script.Context
	// PlayerLocation returns the player's current location dbref.
	PlayerLocation(ctx context.Context, player dbref.DbRef) dbref.DbRef
	// ProgramName returns a program's object name, for outcome messages
	// that name the program by which it ran.
	ProgramName(ctx context.Context, ref dbref.DbRef) (string, error)
}

// lineHandler is an in-progress multi-line command handler (spec §4.8's
// "optional in-progress multi-line command handler"). It returns true
// once it has consumed its final line.
type lineHandler func(line string) (done bool)

// Connection is one client's protocol state.
type Connection struct {
	conn   net.Conn
	world  World
	logger *zap.Logger

	w *bufio.Writer

	mu          sync.Mutex
	mode        Mode
	identity    dbref.DbRef
	username    string
	inProgress  lineHandler
	programIn   chan string
	closed      bool
}

// New wraps conn in a Connection bound to world.
func New(conn net.Conn, world World, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{
		conn:     conn,
		world:    world,
		logger:   logger,
		w:        bufio.NewWriter(conn),
		mode:     ModeNormal,
		identity: dbref.Nothing,
	}
}

// Serve runs the connection's read loop until ctx is cancelled, the peer
// disconnects, or shutdown is called. It always closes conn before
// returning, and returning cancels the context handed to every program
// spawned from this connection, so a program still running ends Aborted.
func (c *Connection) Serve(ctx context.Context) {
	defer c.conn.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.writeLine(greeting)

	lines := make(chan string)
	readErr := make(chan error, 1)
	stopReading := make(chan struct{})
	defer close(stopReading)
	go c.readLines(lines, readErr, stopReading)

	for {
		select {
		case <-ctx.Done():
			c.shutdown("server shutting down")
			return
		case err := <-readErr:
			if err != nil {
				c.logger.Debug("connection read ended", zap.Error(err), zap.String("remote", c.conn.RemoteAddr().String()))
			}
			c.abortInteractiveProgram()
			return
		case line := <-lines:
			c.handleLine(ctx, line)
		}
	}
}

// readLines assembles CRLF-terminated records from the socket and
// forwards them on lines, per spec §4.8's ReadChunk state. It exits
// promptly once stop is closed so it never blocks forever on a send after
// Serve has already returned.
func (c *Connection) readLines(lines chan<- string, errc chan<- error, stop <-chan struct{}) {
	reader := bufio.NewReader(c.conn)
	for {
		raw, err := reader.ReadString('\n')
		if raw != "" {
			select {
			case lines <- strings.TrimRight(raw, "\r\n"):
			case <-stop:
				return
			}
		}
		if err != nil {
			select {
			case errc <- err:
			case <-stop:
			}
			return
		}
	}
}

func (c *Connection) handleLine(ctx context.Context, line string) {
	c.mu.Lock()
	handler := c.inProgress
	mode := c.mode
	programIn := c.programIn
	c.mu.Unlock()

	if handler != nil {
		if handler(line) {
			c.mu.Lock()
			c.inProgress = nil
			c.mu.Unlock()
		}
		return
	}

	if mode == ModeInteractiveProgram {
		if programIn != nil {
			select {
			case programIn <- line:
			case <-ctx.Done():
			}
		}
		return
	}

	fields := strings.Fields(line)
	if len(fields) > 0 && strings.EqualFold(fields[0], "CONNECT") {
		c.handleConnect(ctx, fields)
		return
	}

	c.dispatchCommand(ctx, line)
}

func (c *Connection) handleConnect(ctx context.Context, fields []string) {
	if len(fields) != 3 {
		c.writeLine("500 Unknown command")
		return
	}
	ref, err := c.world.Authenticate(ctx, fields[1], fields[2])
	if err != nil {
		c.writeLine("500 Unknown command")
		return
	}
	c.mu.Lock()
	c.identity = ref
	c.username = fields[1]
	c.mu.Unlock()
}

// dispatchCommand implements the parse -> match -> resolve verb -> fetch
// target -> spawn program leg of spec §4.8's state diagram.
func (c *Connection) dispatchCommand(ctx context.Context, line string) {
	cmd, err := cmdparse.Parse(line)
	if err != nil || cmd.Verb == "" {
		c.writeLine("What?")
		return
	}

	c.mu.Lock()
	player := c.identity
	c.mu.Unlock()

	carried, here, err := c.world.Scope(ctx, player)
	if err != nil {
		c.writeLine("What?")
		return
	}
	scope := append(append([]model.Object{}, carried...), here...)

	p := &match.Player{Ref: player, Location: c.world.PlayerLocation(ctx, player)}

	var directObj, indirectObj dbref.DbRef = dbref.Nothing, dbref.Nothing
	if cmd.DirectObjectString != "" {
		directObj = match.MatchObject(ctx, p, cmd.DirectObjectString, scope, nil)
	}
	if cmd.IndirectObjectString != "" {
		indirectObj = match.MatchObject(ctx, p, cmd.IndirectObjectString, scope, nil)
	}
	if directObj == dbref.Ambiguous || indirectObj == dbref.Ambiguous {
		c.writeLine("Which one?")
		return
	}

	verbRef := c.world.ResolveVerb(ctx, player, cmd.Verb, directObj, indirectObj)
	switch verbRef {
	case dbref.Ambiguous:
		c.writeLine("Which one?")
		return
	case dbref.FailedMatch, dbref.Nothing:
		c.writeLine("Er?")
		return
	}

	target, isProgram, err := c.world.LinkTarget(ctx, verbRef)
	if err != nil {
		c.writeLine("You peer closer and notice a rip in the space-time continuum...")
		return
	}
	if !isProgram {
		// A travel exit: nothing more to do at this layer.
		return
	}

	c.spawnProgram(ctx, target, cmd, directObj, indirectObj, player, verbRef)
}

func (c *Connection) spawnProgram(ctx context.Context, programRef dbref.DbRef, cmd cmdparse.Command, directObj, indirectObj, player, caller dbref.DbRef) {
	authenticated := player != dbref.Nothing
	globals := script.Globals{
		Player:               player,
		PlayerLocation:       c.world.PlayerLocation(ctx, player),
		This:                 caller,
		Caller:               player,
		Verb:                 cmd.Verb,
		ArgString:            cmd.DirectObjectString,
		Args:                 strings.Fields(cmd.DirectObjectString),
		DirectObject:         directObj,
		DirectObjectString:   cmd.DirectObjectString,
		PrepositionString:    cmd.Preposition,
		IndirectObject:       indirectObj,
		IndirectObjectString: cmd.IndirectObjectString,
	}

	go func() {
		runCtx := c.world.RunProgram(ctx, programRef, authenticated, globals, c.writeLine)
		c.reportOutcome(ctx, programRef, runCtx)
	}()
}

// programLabel returns a program's name for outcome messages, falling
// back to its dbref string if the lookup fails (e.g. the program was
// deleted mid-run).
func (c *Connection) programLabel(ctx context.Context, programRef dbref.DbRef) string {
	name, err := c.world.ProgramName(ctx, programRef)
	if err != nil || name == "" {
		return programRef.String()
	}
	return name
}

func (c *Connection) reportOutcome(ctx context.Context, programRef dbref.DbRef, runCtx *script.Context) {
	switch runCtx.Category {
	case script.ErrProgramNotFound, script.ErrProgramNotSpecified:
		c.writeLine("Huh?")
		return
	case script.ErrAuthenticationRequired:
		c.writeLine("You must be logged in to use that command.")
		return
	}

	switch runCtx.State {
	case script.StateAborted:
		c.writeLine("Aborted.")
	case script.StateErrored:
		c.writeLine(fmt.Sprintf("ERROR: %v", runCtx.Err))
	case script.StateKilled:
		c.writeLine(fmt.Sprintf("KILLED: %v", runCtx.Err))
	case script.StateCompleted:
		c.logger.Debug("program completed", zap.String("program", programRef.String()), zap.String("runID", runCtx.ID))
	case script.StatePaused:
		c.writeLine(fmt.Sprintf("Paused: %s.", c.programLabel(ctx, programRef)))
	case script.StateRunning:
		c.writeLine(fmt.Sprintf("Running... %s.", c.programLabel(ctx, programRef)))
	default:
		c.writeLine(fmt.Sprintf("STUCK: %s loaded but not completed.", c.programLabel(ctx, programRef)))
	}
}

// BeginInteractive switches the connection into InteractiveProgram mode
// and returns the channel a program's PlayerInput should read from. The
// returned cleanup must be called when the program terminates to restore
// Normal mode (spec §4.7, "After termination, input redirection on the
// connection is cleared").
func (c *Connection) BeginInteractive() (in <-chan string, cleanup func()) {
	ch := make(chan string)
	c.mu.Lock()
	c.mode = ModeInteractiveProgram
	c.programIn = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		c.mode = ModeNormal
		c.programIn = nil
		c.mu.Unlock()
	}
}

func (c *Connection) abortInteractiveProgram() {
	c.mu.Lock()
	ch := c.programIn
	c.programIn = nil
	c.mode = ModeNormal
	c.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// writeLine writes a CRLF-terminated line and marks the connection closed
// on any transport error, per spec §4.8.
func (c *Connection) writeLine(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, err := c.w.WriteString(line + "\r\n"); err != nil {
		c.closed = true
		return
	}
	if err := c.w.Flush(); err != nil {
		c.closed = true
	}
}

// shutdown sends the farewell and closes the connection, per spec §4.8.
func (c *Connection) shutdown(reason string) {
	c.writeLine(goodbye)
	c.conn.Close()
	c.logger.Debug("connection shutdown", zap.String("reason", reason))
}

// Identity returns the authenticated player's dbref, or dbref.Nothing.
func (c *Connection) Identity() dbref.DbRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}
