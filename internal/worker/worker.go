package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils" // Using the SafeCommand wrapper
)

// Op selects the inference operation performed by the worker.
type Op byte

const (
	OpDetect Op = 'D'
	OpEmbed  Op = 'E'
	OpVerify Op = 'V'
)

// maxResponse bounds a single response frame.
const maxResponse = 64 * 1024 * 1024

// LogicError is an error reported by the Python side. The worker itself is still healthy.
type LogicError struct {
	Message string
}

func (e *LogicError) Error() string {
	return "python worker error: " + e.Message
}

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	Timeout  time.Duration
}

func NewPythonWorker(id int, python, script string, timeout time.Duration) (*PythonWorker, error) {
	// The process outlives any single request, so it is not tied to a request context
	py := utils.NewSafeCommand(context.Background(), python, "-u", script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		Timeout:  timeout,
	}, nil
}

func writeBlob(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// Communicate sends one request and decodes the JSON response.
// Protocol: [Op][LenA][A][LenB][B] -> [Len][JSON]
func (w *PythonWorker) Communicate(ctx context.Context, op Op, a, b []byte) (*types.InferenceResult, error) {
	// A cancelled request kills the process; the pool replaces it
	stop := context.AfterFunc(ctx, w.Kill)
	defer stop()

	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.Timeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(w.Timeout))
	}

	if _, err := w.Stdin.Write([]byte{byte(op)}); err != nil {
		return nil, err
	}
	if err := writeBlob(w.Stdin, a); err != nil {
		return nil, err
	}
	if err := writeBlob(w.Stdin, b); err != nil {
		return nil, err
	}

	// Read Result
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("response frame too large: %d bytes", respLen)
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, err
	}

	var result types.InferenceResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("malformed worker response: %w", err)
	}
	if result.Error != "" {
		return nil, &LogicError{Message: result.Error}
	}
	return &result, nil
}

// Healthy reports whether err leaves the worker usable for further requests.
func Healthy(err error) bool {
	var logic *LogicError
	return err == nil || errors.As(err, &logic)
}

// Kill terminates the Python process without waiting for it.
func (w *PythonWorker) Kill() {
	w.Cmd.Kill()
}

func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
