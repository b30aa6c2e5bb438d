package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/runninghub-studio/studio/internal/logger"
	"github.com/runninghub-studio/studio/internal/model"
)

const (
	DefaultInterval = 2 * time.Second
	DefaultTimeout  = 5 * time.Minute
)

var (
	ErrCancelled = errors.New("polling cancelled")
	ErrTimeout   = errors.New("polling timeout")
)

// State is where a poll ended up.
type State string

const (
	StateIdle      State = "IDLE"
	StatePolling   State = "POLLING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
	StateTimedOut  State = "TIMED_OUT"
)

// TaskFailedError is returned when the upstream reports FAILED or CANCELLED.
type TaskFailedError struct {
	TaskID  string
	Status  string
	Code    string
	Message string
}

func (e *TaskFailedError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if msg == "" {
		msg = "runninghub-failed"
	}
	return fmt.Sprintf("task %s %s: %s", e.TaskID, e.Status, msg)
}

// QueryFunc fetches the status of a task once.
type QueryFunc func(ctx context.Context, taskID string) (*model.QueryResult, error)

type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	// OnTick receives the raw upstream status after every query.
	OnTick func(status string)
	// Now and Sleep replace the wall clock in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Poller struct {
	query  QueryFunc
	opts   Options
	logger *logger.CustomLogger

	mu    sync.Mutex
	state State
}

func New(query QueryFunc, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Poller{
		query:  query,
		opts:   opts,
		logger: logger.NewComponentLogger("poller"),
		state:  StateIdle,
	}
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Poll queries taskID until it reaches a terminal status. Cancellation of ctx
// is honoured before every query and while waiting between queries.
func (p *Poller) Poll(ctx context.Context, taskID string) (*model.QueryResult, error) {
	p.setState(StatePolling)
	start := p.opts.Now()
	for n := 1; ; n++ {
		if ctx.Err() != nil {
			p.setState(StateCancelled)
			return nil, ErrCancelled
		}
		if elapsed := p.opts.Now().Sub(start); elapsed > p.opts.Timeout {
			p.setState(StateTimedOut)
			p.logger.Warnw("poll timeout", "taskId", taskID, "queries", n-1, "elapsed", elapsed)
			return nil, fmt.Errorf("task %s: %w after %s", taskID, ErrTimeout, p.opts.Timeout)
		}

		res, err := p.query(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				p.setState(StateCancelled)
				return nil, ErrCancelled
			}
			p.setState(StateFailed)
			return nil, err
		}
		if p.opts.OnTick != nil {
			p.opts.OnTick(res.Status)
		}
		p.logger.Debugw("poll tick", "taskId", taskID, "query", n, "status", res.Status)

		switch res.Status {
		case model.TaskStatusSuccess:
			p.setState(StateSucceeded)
			return res, nil
		case model.TaskStatusFailed, model.TaskStatusCancelled:
			p.setState(StateFailed)
			if res.Status == model.TaskStatusCancelled {
				p.setState(StateCancelled)
			}
			return res, &TaskFailedError{
				TaskID:  taskID,
				Status:  res.Status,
				Code:    res.ErrorCode,
				Message: res.ErrorMessage,
			}
		}

		if err := p.opts.Sleep(ctx, p.opts.Interval); err != nil {
			p.setState(StateCancelled)
			return nil, ErrCancelled
		}
	}
}

// Poll is New(query, opts).Poll(ctx, taskID).
func Poll(ctx context.Context, taskID string, query QueryFunc, opts Options) (*model.QueryResult, error) {
	return New(query, opts).Poll(ctx, taskID)
}
