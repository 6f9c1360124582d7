package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/ggoodman/mcp-client-go/client"
)

// Large single-line messages are legal; give the line scanner headroom.
const maxLineBytes = 4 * 1024 * 1024

// stopWait bounds how long Close waits for the child to exit after its
// stdin is closed before killing it.
const stopWait = 2 * time.Second

var _ client.Transport = (*Transport)(nil)

// Transport spawns a server subprocess and speaks newline-delimited
// JSON-RPC over its pipes.
type Transport struct {
	command string
	args    []string
	env     []string
	dir     string
	log     *slog.Logger

	// Test seam: when set, no subprocess is spawned and the transport runs
	// over these streams instead.
	in  io.Reader
	out io.WriteCloser
}

// NewTransport configures a pipe transport that will run the given command.
func NewTransport(command string, opts ...Option) *Transport {
	t := &Transport{
		command: command,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Option customizes a Transport.
type Option func(*Transport)

// WithArgs sets the subprocess argument list.
func WithArgs(args ...string) Option {
	return func(t *Transport) {
		t.args = args
	}
}

// WithLogger overrides the logger used for subprocess stderr and lifecycle
// events.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// WithEnv appends environment variables (KEY=VALUE) to the subprocess
// environment.
func WithEnv(env ...string) Option {
	return func(t *Transport) {
		t.env = append(t.env, env...)
	}
}

// WithDir sets the subprocess working directory.
func WithDir(dir string) Option {
	return func(t *Transport) {
		t.dir = dir
	}
}

// WithIO bypasses process spawning and runs the transport over the provided
// streams: r is read as the out-of-band channel, w is the send channel.
func WithIO(r io.Reader, w io.WriteCloser) Option {
	return func(t *Transport) {
		t.in = r
		t.out = w
	}
}

// Name implements client.Transport.
func (t *Transport) Name() string { return "stdio" }

// Connect starts the subprocess and wires its pipes. There is no handshake
// on this transport: a started process with open pipes is the readiness
// signal, and no session identifier exists.
func (t *Transport) Connect(ctx context.Context) (client.Conn, error) {
	if t.in != nil && t.out != nil {
		return newConn(nil, t.out, t.in, t.log), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(t.command, t.args...)
	if len(t.env) > 0 {
		cmd.Env = append(cmd.Environ(), t.env...)
	}
	cmd.Dir = t.dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", t.command, err)
	}
	t.log.Debug("server subprocess started",
		slog.String("command", t.command),
		slog.Int("pid", cmd.Process.Pid),
	)

	go drainStderr(stderr, t.log)

	return newConn(cmd, stdin, stdout, t.log), nil
}

// drainStderr forwards the child's stderr to the logger line by line so the
// child cannot block on a full pipe.
func drainStderr(r io.Reader, log *slog.Logger) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			log.Debug("server stderr", slog.String("line", line))
		}
	}
}

type conn struct {
	log     *slog.Logger
	proc    *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.Reader
	scanner *bufio.Scanner

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func newConn(proc *exec.Cmd, stdin io.WriteCloser, stdout io.Reader, log *slog.Logger) *conn {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &conn{
		log:     log,
		proc:    proc,
		stdin:   stdin,
		stdout:  stdout,
		scanner: sc,
	}
}

// Send writes one message followed by a newline. The mutex serializes
// writers: a single pipe must never interleave two frames.
func (c *conn) Send(ctx context.Context, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.stdin.Write(payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if _, err := c.stdin.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("write frame delimiter: %w", err)
	}
	return nil
}

// Recv returns the next stdout line. The scanner reuses its buffer between
// calls, so the frame is copied out before returning.
func (c *conn) Recv() ([]byte, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	line := c.scanner.Bytes()
	frame := make([]byte, len(line))
	copy(frame, line)
	return frame, nil
}

// SessionID implements client.Conn. The pipe transport has no session
// concept.
func (c *conn) SessionID() string { return "" }

// Close signals the child to exit by closing its stdin, waits briefly for a
// clean exit, and kills it if that does not happen. Either way the stdout
// pipe ends and unblocks Recv.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.stdin.Close()

		if c.proc == nil {
			if closer, ok := c.stdout.(io.Closer); ok {
				closer.Close()
			}
			return
		}

		done := make(chan error, 1)
		go func() { done <- c.proc.Wait() }()

		select {
		case <-done:
		case <-time.After(stopWait):
			c.log.Warn("server subprocess did not exit; killing it",
				slog.Int("pid", c.proc.Process.Pid),
			)
			_ = c.proc.Process.Kill()
			<-done
		}
	})
	return c.closeErr
}
