package txn

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type WorkerOptions struct {
	// Retries is how many times a transaction aborted by a latch conflict is run
	// again; a negative value retries until it commits or the context is done.
	Retries int

	// Backoff is the first delay before a retry; each later retry of the same
	// transaction doubles it, up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration

	Logger *log.Logger
}

// Worker runs its queue of transactions, one at a time, in its own goroutine.
type Worker struct {
	opts WorkerOptions

	mutex     sync.Mutex
	queue     []*Transaction
	committed int
	aborted   int
	done      chan struct{}
	err       error
}

func NewWorker(opts WorkerOptions) *Worker {
	if opts.Backoff <= 0 {
		opts.Backoff = 100 * time.Microsecond
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = 100 * opts.Backoff
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	return &Worker{
		opts: opts,
	}
}

// Add queues tx; it must be called before Start.
func (w *Worker) Add(tx *Transaction) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.queue = append(w.queue, tx)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	// Jitter keeps conflicting workers from retrying in lockstep.
	d = d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (w *Worker) runOne(ctx context.Context, tx *Transaction) (bool, error) {
	backoff := w.opts.Backoff
	for attempt := 0; ; attempt += 1 {
		err := tx.Run()
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, ErrAborted) {
			return false, err
		}

		w.opts.Logger.WithFields(log.Fields{
			"txn":     tx.ID(),
			"attempt": attempt,
			"error":   err.Error(),
		}).Debug("transaction aborted")

		if !Conflict(err) || (w.opts.Retries >= 0 && attempt >= w.opts.Retries) {
			return false, nil
		}
		err = w.sleep(ctx, backoff)
		if err != nil {
			return false, err
		}
		backoff *= 2
		if backoff > w.opts.MaxBackoff {
			backoff = w.opts.MaxBackoff
		}
	}
}

// Run runs every queued transaction and returns once the queue is empty or ctx is
// done.
func (w *Worker) Run(ctx context.Context) error {
	w.mutex.Lock()
	queue := w.queue
	w.queue = nil
	w.mutex.Unlock()

	for _, tx := range queue {
		if err := ctx.Err(); err != nil {
			return err
		}

		ok, err := w.runOne(ctx, tx)
		if err != nil {
			return err
		}

		w.mutex.Lock()
		if ok {
			w.committed += 1
		} else {
			w.aborted += 1
		}
		w.mutex.Unlock()
	}
	return nil
}

// Start calls Run in a new goroutine; use Join to wait for it.
func (w *Worker) Start(ctx context.Context) {
	w.done = make(chan struct{})
	go func() {
		err := w.Run(ctx)
		w.mutex.Lock()
		w.err = err
		w.mutex.Unlock()
		close(w.done)
	}()
}

// Join waits for the goroutine started by Start and returns the number of
// committed transactions.
func (w *Worker) Join() (int, error) {
	<-w.done

	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.committed, w.err
}

// Stats returns the number of committed and aborted transactions so far.
func (w *Worker) Stats() (int, int) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return w.committed, w.aborted
}
