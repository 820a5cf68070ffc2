package vpn

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Process is a running OpenVPN child together with its combined output.
// The two implementations differ only in how output is wired: a plain pipe,
// or a pseudo-terminal when a password prompt has to be answered.
type Process interface {
	// PID is the child's process ID, which is also its process group ID.
	PID() int
	// Alive reports whether the child has not yet exited.
	Alive() bool
	// Wait blocks until the child exits or timeout elapses and reports
	// whether it exited.
	Wait(timeout time.Duration) bool
	// Terminate signals the whole process group: SIGTERM, or SIGKILL when force is set.
	Terminate(force bool) error
	// ReadChunk returns the next chunk of output. It returns (nil, nil) when
	// nothing arrived within timeout and io.EOF once the output is closed.
	ReadChunk(timeout time.Duration) ([]byte, error)
	// Close releases the output stream.
	Close() error
}

const readChunkSize = 4096

// procHandle holds what both process kinds share: the command, an exit
// channel fed by cmd.Wait, and a goroutine pumping output chunks.
type procHandle struct {
	cmd       *exec.Cmd
	out       *os.File
	done      chan struct{}
	chunks    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	readErr   error
}

func newProcHandle(cmd *exec.Cmd, out *os.File) *procHandle {
	h := &procHandle{
		cmd:    cmd,
		out:    out,
		done:   make(chan struct{}),
		chunks: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(h.done)
	}()
	go h.pump()
	return h
}

func (h *procHandle) pump() {
	defer close(h.chunks)
	buf := make([]byte, readChunkSize)
	for {
		n, err := h.out.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case h.chunks <- chunk:
			case <-h.closed:
				return
			}
		}
		if err != nil {
			h.readErr = err
			return
		}
	}
}

func (h *procHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *procHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *procHandle) Wait(timeout time.Duration) bool {
	return waitFor(h.done, timeout)
}

func (h *procHandle) Terminate(force bool) error {
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}
	if err := unix.Kill(-h.PID(), sig); err != nil {
		return fmt.Errorf("signal process group %d: %w", h.PID(), err)
	}
	return nil
}

func (h *procHandle) ReadChunk(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case chunk, ok := <-h.chunks:
		if !ok {
			return nil, h.endOfStream()
		}
		return chunk, nil
	case <-timer.C:
		return nil, nil
	}
}

// endOfStream maps the pump's final error to io.EOF where it only means the
// other side went away. A pty master reports EIO once the child has exited.
func (h *procHandle) endOfStream() error {
	err := h.readErr
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EIO) {
		return io.EOF
	}
	return err
}

func (h *procHandle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.closed)
		err = h.out.Close()
	})
	return err
}

// pipeProcess runs the child in its own process group with stdout and
// stderr joined into one pipe.
type pipeProcess struct {
	*procHandle
}

func startPipeProcess(argv []string) (*pipeProcess, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	// The child holds its own copy; closing ours lets EOF arrive when it exits.
	w.Close()

	return &pipeProcess{procHandle: newProcHandle(cmd, r)}, nil
}

// ptyProcess runs the child as a session leader on a pseudo-terminal so a
// privilege-escalation prompt can be seen and answered.
type ptyProcess struct {
	*procHandle
	writeMu sync.Mutex
}

func startPTYProcess(argv []string) (*ptyProcess, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	// pty.Start makes the child a session leader, so its PID is also its group ID.
	master, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	return &ptyProcess{procHandle: newProcHandle(cmd, master)}, nil
}

// Write sends input to the child's terminal.
func (p *ptyProcess) Write(b []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.out.Write(b)
}

func waitFor(ch <-chan struct{}, timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
