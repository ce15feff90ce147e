package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Outcome classifies how the worker finished an operation.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	// OutcomeSkipped means an endpoint could not be opened; nothing was moved.
	OutcomeSkipped
	// OutcomeFaulted means a read, write or seek failed and the rest of the
	// operation was abandoned.
	OutcomeFaulted
	// OutcomeDropped means the operation kind was not recognized.
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFaulted:
		return "faulted"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Direction labels byte counters.
type Direction string

const (
	DirectionRead  Direction = "read"
	DirectionWrite Direction = "write"
)

// Observer receives live measurements from the drain worker. All methods are
// called from the worker goroutine and must not block.
type Observer interface {
	ObserveOperation(kind OpKind, outcome Outcome, elapsed time.Duration)
	ObserveBytes(dir Direction, tasked, succeeded int64)
	ObserveQueueDepth(depth int)
}

// RunMetrics accumulates counters and timers for one Start to worker-exit
// run. The worker owns it exclusively; callers only ever see copies.
type RunMetrics struct {
	RunID string

	Total     time.Duration
	Read      time.Duration
	Write     time.Duration
	ReadSeek  time.Duration
	WriteSeek time.Duration
	Close     time.Duration
	Idle      time.Duration

	// JoinWait is how long the first Join blocked waiting for the worker.
	JoinWait time.Duration

	MaxQueueDepth int

	ReadTasked     int64
	ReadSucceeded  int64
	WriteTasked    int64
	WriteSucceeded int64

	ops      [numOpKinds]int64
	Skipped  int64
	Faulted  int64
	Dropped  int64
	CloseErr string
}

// Ops returns how many operations of kind were dispatched.
func (m RunMetrics) Ops(kind OpKind) int64 {
	if !kind.Known() {
		return 0
	}
	return m.ops[kind]
}

// TotalOps returns the number of dispatched operations, dropped ones included.
func (m RunMetrics) TotalOps() int64 {
	total := m.Dropped
	for _, n := range m.ops {
		total += n
	}
	return total
}

// ReadMismatch reports whether fewer bytes were read than requested.
func (m RunMetrics) ReadMismatch() bool {
	return m.ReadTasked != m.ReadSucceeded
}

// WriteMismatch reports whether fewer bytes were written than requested.
func (m RunMetrics) WriteMismatch() bool {
	return m.WriteTasked != m.WriteSucceeded
}

// Mismatch reports whether either direction lost bytes.
func (m RunMetrics) Mismatch() bool {
	return m.ReadMismatch() || m.WriteMismatch()
}

func (m *RunMetrics) observeDepth(depth int) {
	if depth > m.MaxQueueDepth {
		m.MaxQueueDepth = depth
	}
}

func (m *RunMetrics) countOp(kind OpKind, outcome Outcome) {
	if kind.Known() {
		m.ops[kind]++
	}
	switch outcome {
	case OutcomeSkipped:
		m.Skipped++
	case OutcomeFaulted:
		m.Faulted++
	case OutcomeDropped:
		m.Dropped++
	}
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// String renders the end-of-run summary line.
func (m RunMetrics) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "runtime total=%s read=%s write=%s read-seek=%s write-seek=%s close=%s idle=%s",
		seconds(m.Total), seconds(m.Read), seconds(m.Write), seconds(m.ReadSeek),
		seconds(m.WriteSeek), seconds(m.Close), seconds(m.Idle))
	fmt.Fprintf(&sb, ". ops=%d skipped=%d faulted=%d dropped=%d. max queue size=%d.",
		m.TotalOps(), m.Skipped, m.Faulted, m.Dropped, m.MaxQueueDepth)

	if m.ReadMismatch() {
		fmt.Fprintf(&sb, " WARNING read wanted %s but successfully read %s.",
			humanize.IBytes(uint64(m.ReadTasked)), humanize.IBytes(uint64(m.ReadSucceeded)))
	} else {
		fmt.Fprintf(&sb, " Read %s.", humanize.IBytes(uint64(m.ReadSucceeded)))
	}
	if m.WriteMismatch() {
		fmt.Fprintf(&sb, " WARNING write wanted %s but successfully wrote %s.",
			humanize.IBytes(uint64(m.WriteTasked)), humanize.IBytes(uint64(m.WriteSucceeded)))
	} else {
		fmt.Fprintf(&sb, " Wrote %s.", humanize.IBytes(uint64(m.WriteSucceeded)))
	}
	return sb.String()
}

// Snapshot is a point-in-time view of a drainer for progress displays.
type Snapshot struct {
	RunMetrics

	// Pending is the number of operations still queued, in-flight one included.
	Pending int
	// Enqueued counts operations accepted by Enqueue.
	Enqueued int64
	// EnqueuedBytes sums CountBytes of accepted operations.
	EnqueuedBytes int64
	Running       bool
	Done          bool
}
