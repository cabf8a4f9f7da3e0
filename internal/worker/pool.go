package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/faceauth/internal/logger"
	"github.com/andresmejia3/faceauth/internal/types"
	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Detect after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// SpawnFunc starts one worker. Tests swap it for in-memory workers.
type SpawnFunc func(ctx context.Context, id int) (*PythonWorker, error)

// Pool hands out Python workers one request at a time. A worker that
// crashes or times out is killed and replaced.
type Pool struct {
	spawn   SpawnFunc
	timeout time.Duration
	idle    chan *PythonWorker

	mu     sync.Mutex
	nextID int
	closed bool
	done   chan struct{}
}

// NewPool starts size workers running script under python.
func NewPool(ctx context.Context, python, script string, size int, timeout time.Duration) (*Pool, error) {
	spawn := func(ctx context.Context, id int) (*PythonWorker, error) {
		return NewPythonWorker(ctx, id, python, script)
	}
	return NewPoolWithSpawn(ctx, spawn, size, timeout)
}

// NewPoolWithSpawn is NewPool with a custom worker factory.
func NewPoolWithSpawn(ctx context.Context, spawn SpawnFunc, size int, timeout time.Duration) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		spawn:   spawn,
		timeout: timeout,
		idle:    make(chan *PythonWorker, size),
		done:    make(chan struct{}),
	}
	for range size {
		w, err := p.start(ctx)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.idle <- w
	}
	logger.Info("worker pool started", zap.Int("workers", size), zap.Duration("timeout", timeout))
	return p, nil
}

func (p *Pool) start(ctx context.Context) (*PythonWorker, error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.mu.Unlock()

	// Workers outlive the request that spawned them.
	w, err := p.spawn(context.WithoutCancel(ctx), id)
	if err != nil {
		return nil, fmt.Errorf("worker %d startup failed: %w", id, err)
	}
	return w, nil
}

// Detect runs one frame through an idle worker.
func (p *Pool) Detect(ctx context.Context, image []byte) ([]types.RawDetection, error) {
	var w *PythonWorker
	select {
	case w = <-p.idle:
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	type result struct {
		dets []types.RawDetection
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		dets, err := w.ProcessFrame(image)
		ch <- result{dets, err}
	}()

	var timeout <-chan time.Time
	if p.timeout > 0 {
		t := time.NewTimer(p.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case res := <-ch:
		var we *WorkerError
		if res.err == nil || errors.As(res.err, &we) {
			p.release(w)
			return res.dets, res.err
		}
		stderr := ""
		if w.Cmd != nil {
			stderr = w.Cmd.Stderr.String()
		}
		logger.Error("worker crashed", zap.Int("worker", w.ID), zap.Error(res.err), zap.String("stderr", stderr))
		p.replace(ctx, w)
		return nil, fmt.Errorf("worker %d crashed: %w", w.ID, res.err)
	case <-timeout:
		logger.Warn("worker timed out", zap.Int("worker", w.ID), zap.Duration("timeout", p.timeout))
		p.replace(ctx, w)
		return nil, fmt.Errorf("worker %d: %w", w.ID, context.DeadlineExceeded)
	case <-ctx.Done():
		// The worker may be mid-frame; its reply would desync the protocol.
		p.replace(ctx, w)
		return nil, ctx.Err()
	}
}

func (p *Pool) release(w *PythonWorker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		w.Close()
		return
	}
	p.idle <- w
}

func (p *Pool) replace(ctx context.Context, old *PythonWorker) {
	old.Kill()
	w, err := p.start(ctx)
	if err != nil {
		logger.Error("worker replacement failed", zap.Error(err))
		return
	}
	p.release(w)
}

// Close stops every idle worker. Workers busy in Detect are stopped when
// they are returned.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	for {
		select {
		case w := <-p.idle:
			w.Close()
		default:
			return
		}
	}
}
