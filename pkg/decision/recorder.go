package decision

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RecorderConfig configures the async decision recorder.
type RecorderConfig struct {
	// Enabled enables recording. When false, Record is a no-op.
	Enabled bool

	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout bounds both enqueueing when the buffer is full and
	// each storage write. Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultRecorderConfig returns the default recorder configuration.
func DefaultRecorderConfig() *RecorderConfig {
	return &RecorderConfig{
		Enabled:      true,
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder writes decision records asynchronously so the evaluation
// path never blocks on storage.
type Recorder struct {
	storage    Storage
	config     *RecorderConfig
	recordChan chan *Record
	wg         sync.WaitGroup
	done       chan struct{}
	closeOnce  sync.Once
	logger     *slog.Logger
}

// NewRecorder creates a recorder and starts its background worker.
func NewRecorder(storage Storage, config *RecorderConfig) *Recorder {
	if config == nil {
		config = DefaultRecorderConfig()
	}
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = 1000
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}

	r := &Recorder{
		storage:    storage,
		config:     config,
		recordChan: make(chan *Record, config.AsyncBuffer),
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "decision.recorder"),
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// Record enqueues a record for async persistence. It returns
// immediately in the common case; when the buffer is full it waits up
// to the write timeout before dropping the record with an error.
func (r *Recorder) Record(ctx context.Context, record *Record) error {
	if !r.config.Enabled {
		return nil
	}

	select {
	case r.recordChan <- record:
		return nil
	default:
	}

	// Buffer full: apply back-pressure for at most the write timeout.
	timer := time.NewTimer(r.config.WriteTimeout)
	defer timer.Stop()

	select {
	case r.recordChan <- record:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		r.logger.Error("decision record buffer full, dropping record",
			"record_id", record.ID,
			"source", record.Source,
			"capacity", r.config.AsyncBuffer,
		)
		return &StorageError{Backend: "recorder", Operation: "enqueue", Err: context.DeadlineExceeded}
	case <-r.done:
		return &StorageError{Backend: "recorder", Operation: "enqueue", Err: context.Canceled}
	}
}

// Close drains the buffer and waits for pending writes to finish.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case record := <-r.recordChan:
			r.writeRecord(record)
		case <-r.done:
			for {
				select {
				case record := <-r.recordChan:
					r.writeRecord(record)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeRecord(record *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if err := r.storage.Store(ctx, record); err != nil {
		r.logger.Error("failed to store decision record",
			"record_id", record.ID,
			"source", record.Source,
			"error", err,
		)
		return
	}

	r.logger.Debug("decision recorded",
		"record_id", record.ID,
		"source", record.Source,
		"disposition", record.Result.Batch,
	)
}
