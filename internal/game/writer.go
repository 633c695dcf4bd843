package game

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Writer is the write-behind persistence queue. Trades mutate local state
// synchronously and hand an immutable snapshot to the Writer; one worker
// goroutine persists snapshots in issuance order, so two rapid trades can
// never land out of order remotely. Flush gives tests and shutdown paths an
// observable completion point instead of racing fire-and-forget calls.
type Writer struct {
	backend *Backend
	log     *slog.Logger
	timeout time.Duration

	ch      chan Participant
	pending sync.WaitGroup
	once    sync.Once

	mu      sync.Mutex
	lastErr error
}

func NewWriter(backend *Backend, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		backend: backend,
		log:     logger,
		timeout: 10 * time.Second,
		ch:      make(chan Participant, 64),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	for snapshot := range w.ch {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := w.backend.SaveParticipant(ctx, snapshot)
		cancel()
		if err != nil {
			// Local state stays the optimistic truth; the next
			// synchronize pass reconciles any divergence.
			w.log.Warn("persist participant failed", "game_id", snapshot.GameID, "err", err)
			w.mu.Lock()
			w.lastErr = err
			w.mu.Unlock()
		}
		w.pending.Done()
	}
}

// Enqueue schedules one snapshot for persistence. Blocks only if the queue
// backlog exceeds its buffer.
func (w *Writer) Enqueue(snapshot Participant) {
	w.pending.Add(1)
	w.ch <- snapshot
}

// Flush waits until every snapshot enqueued so far has been attempted and
// reports the most recent persistence error, if any.
func (w *Writer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.lastErr
	w.lastErr = nil
	return err
}

// Close stops the worker. Enqueue must not be called afterwards.
func (w *Writer) Close() {
	w.once.Do(func() { close(w.ch) })
}
