// Package dispatch drains the job queue and routes each envelope to the
// handler registered for its kind. Handler failures and panics are isolated:
// the worker pool keeps consuming no matter what a handler does.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/services"
)

// Handler processes one envelope. Implementations convert their own failures
// into processing-job state; an error returned here is logged, never fatal.
type Handler interface {
	Handle(ctx context.Context, env queue.Envelope) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, env queue.Envelope) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, env queue.Envelope) error {
	return f(ctx, env)
}

// PanicHook is invoked when a handler panics, after the panic is logged.
// The daemon wires this to the pipeline failure path so the attempt is
// charged against the job the handler was running.
type PanicHook func(ctx context.Context, env queue.Envelope, recovered any)

// Dispatcher owns the worker pool that consumes the queue.
type Dispatcher struct {
	queue    *queue.Queue
	handlers map[queue.Kind]Handler
	workers  int
	logger   *slog.Logger
	onPanic  PanicHook
	started  bool
}

// New constructs a dispatcher over the given queue.
func New(q *queue.Queue, workers int, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		queue:    q,
		handlers: make(map[queue.Kind]Handler),
		workers:  workers,
		logger:   logging.NewComponentLogger(logger, "dispatcher"),
	}
}

// Register binds a handler to a job kind. The registry is assembled once at
// startup; registering a kind twice or after Run is a configuration error.
func (d *Dispatcher) Register(kind queue.Kind, handler Handler) error {
	if d.started {
		return errors.New("dispatch: register after start")
	}
	if handler == nil {
		return fmt.Errorf("dispatch: nil handler for kind %q", kind)
	}
	if _, dup := d.handlers[kind]; dup {
		return fmt.Errorf("dispatch: handler for kind %q already registered", kind)
	}
	d.handlers[kind] = handler
	return nil
}

// SetPanicHook installs the panic hook. Must be called before Run.
func (d *Dispatcher) SetPanicHook(hook PanicHook) {
	d.onPanic = hook
}

// Run starts the worker pool and blocks until the context is cancelled or
// the queue is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.handlers) == 0 {
		return errors.New("dispatch: no handlers registered")
	}
	d.started = true

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		group.Go(func() error {
			return d.consume(groupCtx)
		})
	}
	return group.Wait()
}

func (d *Dispatcher) consume(ctx context.Context) error {
	for {
		env, err := d.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		d.dispatch(ctx, env)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, env queue.Envelope) {
	handler, ok := d.handlers[env.Kind]
	if !ok {
		// Unregistered kinds are a configuration error; dropping beats
		// retrying something no handler will ever serve.
		d.logger.Error("no handler registered for job kind",
			logging.String(logging.FieldJobKind, string(env.Kind)),
			logging.String(logging.FieldJobID, env.ID),
			logging.String(logging.FieldAssetID, env.AssetID),
		)
		return
	}

	jobCtx := services.WithAssetID(ctx, env.AssetID)
	jobCtx = services.WithJobKind(jobCtx, string(env.Kind))
	jobCtx = services.WithJobID(jobCtx, env.ID)
	jobLogger := logging.WithContext(jobCtx, d.logger)

	defer func() {
		if recovered := recover(); recovered != nil {
			jobLogger.Error("handler panicked",
				logging.Any("panic", recovered),
				logging.String("stack", string(debug.Stack())),
			)
			if d.onPanic != nil {
				d.onPanic(jobCtx, env, recovered)
			}
		}
	}()

	if err := handler.Handle(jobCtx, env); err != nil {
		// Handlers reflect failures into job state themselves; this log is
		// for operators tailing the daemon.
		jobLogger.Error("handler returned error", logging.Error(err))
	}
}
