// Package backend owns one child language-server process: its writer half,
// its reader half, and the graceful/forced shutdown sequences (spec.md
// §4.4). Grounded on original_source/src/backend.rs and backend_pool.rs,
// and on the teacher's stdio-piped subprocess wiring in proxy.go
// (stdIoLSConn).
package backend

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/venvmux/venvmux/internal/errs"
	"github.com/venvmux/venvmux/internal/framing"
	"github.com/venvmux/venvmux/internal/rpcmsg"
)

// Handle owns one not-yet-split backend child process.
type Handle struct {
	cmd    *exec.Cmd
	reader *framing.Stream
	writer *framing.Stream
	nextID int64
}

// Spawn launches the external language-server command for kind, with stdio
// piped in both directions and stderr inherited. venv, when non-empty, sets
// VIRTUAL_ENV and prepends <venv>/bin to PATH (spec.md §6). The child is
// killed if ctx is cancelled, a safety net for whole-proxy shutdown
// (spec.md §5).
func Spawn(ctx context.Context, kind Kind, venv string) (*Handle, error) {
	cmd := exec.CommandContext(ctx, kind.Cmd, kind.Args...)

	env := append(os.Environ(), EnvOverrides(venv)...)
	if venv != "" {
		venvBin := filepath.Join(venv, "bin")
		env = append(env, "PATH="+venvBin+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
	cmd.Env = env
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindBackendSpawn, err, "opening stdin pipe for "+kind.Name)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindBackendSpawn, err, "opening stdout pipe for "+kind.Name)
	}

	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.KindBackendSpawn, err, "spawning "+kind.Name)
	}

	return &Handle{
		cmd:    cmd,
		reader: framing.New(framing.RWC{Reader: stdout, Closer: stdout}),
		writer: framing.New(framing.RWC{Writer: stdin, Closer: stdin}),
		nextID: 1,
	}, nil
}

// NextID returns and increments the session-local outgoing id counter.
func (h *Handle) NextID() int64 {
	id := h.nextID
	h.nextID++
	return id
}

// Send writes one frame to the child.
func (h *Handle) Send(msg *rpcmsg.Message) error {
	return h.writer.Write(msg)
}

// Read reads one frame from the child.
func (h *Handle) Read() (*rpcmsg.Message, error) {
	var msg rpcmsg.Message
	if err := h.reader.ReadInto(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GracefulShutdown sends a shutdown request, waits up to two seconds
// (skipping notifications) for its response, sends exit, and waits up to
// one second for process exit. On timeout or error it force-kills with a
// 500ms join deadline (spec.md §4.4).
func (h *Handle) GracefulShutdown() {
	id := h.NextID()
	req, _ := rpcmsg.NewRequest(rpcmsg.NumberID(id), "shutdown", nil)
	if err := h.Send(req); err == nil {
		waitForResponse(h.reader, id, 2*time.Second)
	}

	exitNotif, _ := rpcmsg.NewNotification("exit", nil)
	_ = h.Send(exitNotif)

	if !waitExit(h.cmd, 1*time.Second) {
		forceKill(h.cmd, 500*time.Millisecond)
	}
}

// FireAndForgetShutdown shuts a backend down in its own goroutine,
// detached from the event loop after ownership of the reader has already
// been transferred away (spec.md §4.4): it sends a shutdown request
// without waiting for its response, sleeps 100ms, sends exit, waits up to
// two seconds for process exit, and force-kills on timeout. It owns only
// the writer half and the child handle; it must not touch proxy state.
func FireAndForgetShutdown(writer *framing.Stream, cmd *exec.Cmd, nextID int64, label string) {
	go func() {
		req, _ := rpcmsg.NewRequest(rpcmsg.NumberID(nextID), "shutdown", nil)
		_ = writer.Write(req)

		time.Sleep(100 * time.Millisecond)

		exitNotif, _ := rpcmsg.NewNotification("exit", nil)
		_ = writer.Write(exitNotif)

		if !waitExit(cmd, 2*time.Second) {
			forceKill(cmd, 500*time.Millisecond)
		}
	}()
}

// Parts is what Split yields: independently ownable reader/writer halves
// plus the id counter the pool will keep advancing.
type Parts struct {
	Reader *framing.Stream
	Writer *framing.Stream
	Cmd    *exec.Cmd
	NextID int64
}

// Split consumes h and yields its parts so the reader can be owned by a
// dedicated task while the writer is held by the pool (spec.md §4.4).
func (h *Handle) Split() Parts {
	return Parts{Reader: h.reader, Writer: h.writer, Cmd: h.cmd, NextID: h.nextID}
}

func waitForResponse(reader *framing.Stream, id int64, timeout time.Duration) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resultCh := make(chan readResult, 1)
		go func() {
			var m rpcmsg.Message
			err := reader.ReadInto(&m)
			resultCh <- readResult{msg: &m, err: err}
		}()

		select {
		case r := <-resultCh:
			if r.err != nil {
				return
			}
			if r.msg.IsResponse() && r.msg.ID != nil && !r.msg.ID.IsString && r.msg.ID.Num == id {
				return
			}
			// notification or mismatched response id: keep skipping.
		case <-time.After(time.Until(deadline)):
			return
		}
	}
}

type readResult struct {
	msg *rpcmsg.Message
	err error
}

func waitExit(cmd *exec.Cmd, timeout time.Duration) bool {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func forceKill(cmd *exec.Cmd, joinDeadline time.Duration) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	waitExit(cmd, joinDeadline)
}
