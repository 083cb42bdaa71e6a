// Package worker runs the segmentation model library in a Python child process
// and speaks a length-prefixed binary protocol with it.
package worker

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// LogBuffer collects child stderr. os/exec copies into it from its own
// goroutine while the child runs, so reads and writes share a lock.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// PythonWorker owns one child process. Requests go over stdin, responses come
// back on a dedicated pipe so library output on stdout cannot corrupt frames.
type PythonWorker struct {
	ID       int
	Cmd      *exec.Cmd
	Stderr   *LogBuffer
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu sync.Mutex
}

// Start launches the worker and waits for its ready frame, which it sends once
// the model has been built.
func Start(id int, python, script string) (*PythonWorker, error) {
	cmd := exec.Command(python, "-u", script)
	stderr := &LogBuffer{}
	cmd.Stderr = stderr

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// the child sees the write end as FD 3
	cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}
	w.Close()

	pw := &PythonWorker{
		ID:       id,
		Cmd:      cmd,
		Stderr:   stderr,
		Stdin:    stdin,
		DataPipe: r,
	}
	if err := pw.handshake(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("worker %d failed to load model: %w%s", id, err, pw.logs())
	}
	slog.Info("Python worker ready", slog.Int("worker", id), slog.Int("pid", cmd.Process.Pid))
	return pw, nil
}

func (w *PythonWorker) handshake() error {
	resp, err := readFrame(w.DataPipe)
	if err != nil {
		return err
	}
	_, err = parseStatus(resp)
	return err
}

func (w *PythonWorker) logs() string {
	if w.Stderr == nil {
		return ""
	}
	logs := w.Stderr.String()
	if logs == "" {
		return ""
	}
	return "\npython logs:\n" + logs
}

// Communicate sends one request and returns the response body after the status byte.
func (w *PythonWorker) Communicate(req []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := writeFrame(w.Stdin, req); err != nil {
		return nil, fmt.Errorf("failed to send request to worker %d: %w", w.ID, err)
	}
	resp, err := readFrame(w.DataPipe)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from worker %d: %w%s", w.ID, err, w.logs())
	}
	return parseStatus(resp)
}

// Close ends the child by closing its stdin and waits for it to exit.
func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
