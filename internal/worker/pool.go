package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/types"
)

// SpawnFunc starts a new worker with the given id.
type SpawnFunc func(id int) (*PythonWorker, error)

// Pool hands out a fixed number of Python workers. A slot holding nil is
// respawned lazily on the next acquire.
type Pool struct {
	slots  chan *PythonWorker
	spawn  SpawnFunc
	nextID atomic.Int64
	size   int
}

// NewPool spawns size Python inference workers running script.
func NewPool(size int, python, script string, timeout time.Duration) (*Pool, error) {
	return NewPoolWithSpawner(size, func(id int) (*PythonWorker, error) {
		return NewPythonWorker(id, python, script, timeout)
	})
}

// NewPoolWithSpawner builds a pool from a custom spawn function.
func NewPoolWithSpawner(size int, spawn SpawnFunc) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{slots: make(chan *PythonWorker, size), spawn: spawn, size: size}
	for i := 0; i < size; i++ {
		w, err := p.spawnNext()
		if err != nil {
			for len(p.slots) > 0 {
				(<-p.slots).Close()
			}
			return nil, err
		}
		p.slots <- w
	}
	return p, nil
}

func (p *Pool) spawnNext() (*PythonWorker, error) {
	id := int(p.nextID.Add(1))
	w, err := p.spawn(id)
	if err != nil {
		return nil, fmt.Errorf("worker %d startup failed: %w", id, err)
	}
	return w, nil
}

func (p *Pool) do(ctx context.Context, op Op, a, b []byte) (*types.InferenceResult, error) {
	var w *PythonWorker
	select {
	case w = <-p.slots:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if w == nil {
		var err error
		if w, err = p.spawnNext(); err != nil {
			p.slots <- nil
			return nil, err
		}
	}

	res, err := w.Communicate(ctx, op, a, b)
	if !Healthy(err) {
		// DRAIN: Wait for process to exit and capture final stderr logs
		w.Kill()
		w.Close()
		fields := []logger.LoggerOptions{{Key: "worker", Data: w.ID}, {Key: "error", Data: err.Error()}}
		if w.Cmd != nil && w.Cmd.Stderr != nil && w.Cmd.Stderr.Len() > 0 {
			fields = append(fields, logger.LoggerOptions{Key: "stderr", Data: w.Cmd.Stderr.String()})
		}
		logger.Warning("inference worker crashed, respawning", fields...)

		replacement, spawnErr := p.spawnNext()
		if spawnErr != nil {
			logger.Error("failed to respawn inference worker", logger.LoggerOptions{Key: "error", Data: spawnErr.Error()})
		}
		p.slots <- replacement
		return nil, err
	}
	p.slots <- w
	return res, err
}

func (p *Pool) Detect(ctx context.Context, image []byte) ([]types.Box, error) {
	res, err := p.do(ctx, OpDetect, image, nil)
	if err != nil {
		return nil, err
	}
	return res.BoxList(), nil
}

func (p *Pool) Embed(ctx context.Context, image []byte) ([]float32, error) {
	res, err := p.do(ctx, OpEmbed, image, nil)
	if err != nil {
		return nil, err
	}
	if len(res.Vec) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return res.Vec, nil
}

func (p *Pool) Verify(ctx context.Context, a, b []byte) (types.Verification, error) {
	res, err := p.do(ctx, OpVerify, a, b)
	if err != nil {
		return types.Verification{}, err
	}
	return types.Verification{Verified: res.Verified, Distance: res.Distance}, nil
}

// Size returns the number of worker slots.
func (p *Pool) Size() int {
	return p.size
}

// Close stops every worker. It blocks until in-flight requests return their workers.
func (p *Pool) Close() {
	for i := 0; i < p.size; i++ {
		if w := <-p.slots; w != nil {
			w.Close()
		}
	}
}
