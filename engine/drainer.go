package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/franksops/bbdrain/provider"
)

// PollInterval is how long an idle worker sleeps before looking at the queue
// again. It bounds both the latency of picking up new work and the latency of
// noticing a shutdown request.
const PollInterval = 100 * time.Millisecond

// Option configures a Drainer.
type Option func(*Drainer)

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(d *Drainer) {
		if log != nil {
			d.log = log
		}
	}
}

// WithObserver registers an Observer for live measurements.
func WithObserver(o Observer) Option {
	return func(d *Drainer) {
		d.observer = o
	}
}

// WithJournal records every dispatched operation in j.
func WithJournal(j *Journal) Option {
	return func(d *Drainer) {
		d.journal = j
	}
}

// WithBufferSize sets the transfer buffer size. Non-positive values are ignored.
func WithBufferSize(n int) Option {
	return func(d *Drainer) {
		if n > 0 {
			d.bufferSize = n
		}
	}
}

// WithVerbose sets the verbosity level and rank, see SetVerbose.
func WithVerbose(level, rank int) Option {
	return func(d *Drainer) {
		d.verbose = level
		d.rank = rank
	}
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) Option {
	return func(d *Drainer) {
		if id != "" {
			d.runID = id
		}
	}
}

// Drainer executes file operations in enqueue order on one background worker.
// Producers call Enqueue from any goroutine and never wait on storage.
// Start launches the worker; Finish asks it to exit once the queue is empty;
// Join finishes and waits. Failures of individual operations are absorbed by
// the worker and only show up in logs, the journal and the run summary.
type Drainer struct {
	accessor provider.FileAccessor
	queue    *OperationQueue

	// finishing is read by the worker before every peek of the queue.
	finishing atomic.Bool
	// gate orders Enqueue against Finish so that an accepted operation is
	// always in the queue before the worker can observe finishing.
	gate sync.RWMutex

	log      logrus.FieldLogger
	observer Observer
	journal  *Journal
	runID    string

	poll time.Duration

	mu         sync.Mutex
	bufferSize int
	verbose    int
	rank       int
	started    bool
	joined     bool
	done       chan struct{}

	statsMu       sync.Mutex
	live          RunMetrics
	final         RunMetrics
	exited        bool
	enqueued      int64
	enqueuedBytes int64
}

// New creates a drainer that performs its I/O through accessor.
func New(accessor provider.FileAccessor, opts ...Option) *Drainer {
	d := &Drainer{
		accessor:   accessor,
		queue:      NewOperationQueue(),
		log:        logrus.StandardLogger(),
		runID:      uuid.NewString(),
		poll:       PollInterval,
		bufferSize: DefaultBufferSize,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.live.RunID = d.runID
	return d
}

// RunID identifies this drainer's run in logs and the journal.
func (d *Drainer) RunID() string {
	return d.runID
}

// SetBufferSize sets the size of the worker's transfer buffer.
func (d *Drainer) SetBufferSize(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBufferSize, n)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}
	d.bufferSize = n
	return nil
}

// BufferSize returns the configured transfer buffer size.
func (d *Drainer) BufferSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bufferSize
}

// SetVerbose sets the log verbosity. Level 0 is quiet, 1 logs the run summary
// and join wait, 2 also traces every operation. rank is attached to every log
// line to tell drainers apart.
func (d *Drainer) SetVerbose(level, rank int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verbose = level
	d.rank = rank
}

// Enqueue appends op to the queue. It returns an error only for malformed
// operations or once Finish has been called; it never blocks on I/O.
func (d *Drainer) Enqueue(op DrainOperation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	d.gate.RLock()
	defer d.gate.RUnlock()
	if d.finishing.Load() {
		return ErrFinished
	}
	d.queue.Push(op)

	d.statsMu.Lock()
	d.enqueued++
	d.enqueuedBytes += op.CountBytes
	d.statsMu.Unlock()
	return nil
}

// AddCopy enqueues a copy of count bytes from the current position of from
// to the current position of to.
func (d *Drainer) AddCopy(from, to string, count int64) error {
	return d.Enqueue(NewCopyOp(from, to, count))
}

// AddCopyAt enqueues a positioned copy.
func (d *Drainer) AddCopyAt(from, to string, fromOffset, toOffset, count int64) error {
	return d.Enqueue(NewCopyAtOp(from, to, fromOffset, toOffset, count))
}

// AddWrite enqueues a write of a private copy of data at the current position of to.
func (d *Drainer) AddWrite(to string, data []byte) error {
	return d.Enqueue(NewWriteOp(to, data))
}

// AddWriteAt enqueues a write of a private copy of data at offset in to.
func (d *Drainer) AddWriteAt(to string, offset int64, data []byte) error {
	return d.Enqueue(NewWriteAtOp(to, offset, data))
}

// AddCreate enqueues creation (truncation) of to.
func (d *Drainer) AddCreate(to string) error {
	return d.Enqueue(NewCreateOp(to))
}

// AddOpen enqueues opening to for append.
func (d *Drainer) AddOpen(to string) error {
	return d.Enqueue(NewOpenOp(to))
}

// AddSeekEnd enqueues moving the write position of to to its end.
func (d *Drainer) AddSeekEnd(to string) error {
	return d.Enqueue(NewSeekEndOp(to))
}

// Start launches the worker goroutine. It returns ErrAlreadyStarted if the
// worker was already launched and ErrFinished if the drainer was joined
// without ever being started.
func (d *Drainer) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}
	if d.joined {
		return ErrFinished
	}
	d.started = true

	w := &worker{
		d:       d,
		buf:     make([]byte, d.bufferSize),
		sum:     NewChecksum(),
		verbose: d.verbose,
		metrics: RunMetrics{RunID: d.runID},
		log: d.log.WithFields(logrus.Fields{
			"rank": d.rank,
			"run":  d.runID,
		}),
	}
	go w.run()
	return nil
}

// Finish asks the worker to exit once the queue is empty. It does not wait
// and may be called any number of times from any goroutine.
func (d *Drainer) Finish() {
	d.gate.Lock()
	d.finishing.Store(true)
	d.gate.Unlock()
}

// Join calls Finish and waits for the worker to drain the queue and exit.
// Repeated calls return once the worker is gone. If the worker was never
// started, queued operations are discarded and the drainer cannot be started
// any more.
func (d *Drainer) Join() {
	d.Finish()

	d.mu.Lock()
	started, first := d.started, !d.joined
	d.joined = true
	verbose, rank := d.verbose, d.rank
	d.mu.Unlock()

	if !started {
		if first {
			if n := d.queue.Clear(); n > 0 {
				d.log.WithFields(logrus.Fields{"rank": rank, "run": d.runID, "pending": n}).
					Warn("drainer joined without being started, discarding queued operations")
			}
		}
		return
	}

	t := time.Now()
	<-d.done
	wait := time.Since(t)

	if !first {
		return
	}
	d.statsMu.Lock()
	d.final.JoinWait = wait
	d.statsMu.Unlock()

	if verbose >= 1 {
		d.log.WithFields(logrus.Fields{
			"rank": rank,
			"run":  d.runID,
			"wait": wait.String(),
		}).Info("drainer joined")
	}
}

// Close joins the drainer. It exists so a drainer can be released with defer
// like other resources and always returns nil.
func (d *Drainer) Close() error {
	d.Join()
	return nil
}

// Done is closed when the worker has exited.
func (d *Drainer) Done() <-chan struct{} {
	return d.done
}

// Summary returns the final run metrics. ok is false until the worker has exited.
func (d *Drainer) Summary() (RunMetrics, bool) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.final, d.exited
}

// Stats returns a live snapshot for progress reporting.
func (d *Drainer) Stats() Snapshot {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()

	pending := d.queue.Len()

	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	s := Snapshot{
		RunMetrics:    d.live,
		Pending:       pending,
		Enqueued:      d.enqueued,
		EnqueuedBytes: d.enqueuedBytes,
		Running:       started && !d.exited,
		Done:          d.exited,
	}
	if d.exited {
		s.RunMetrics = d.final
	}
	return s
}

func (d *Drainer) publish(m RunMetrics) {
	d.statsMu.Lock()
	d.live = m
	d.statsMu.Unlock()
}

func (d *Drainer) finalize(m RunMetrics) {
	d.statsMu.Lock()
	m.JoinWait = d.final.JoinWait
	d.live = m
	d.final = m
	d.exited = true
	d.statsMu.Unlock()
}
