package engine

import (
	"fmt"
	"hash"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/franksops/bbdrain/provider"
)

// opResult is what the worker learned about one dispatched operation.
type opResult struct {
	outcome  Outcome
	read     int64
	written  int64
	checksum uint64
	err      error
}

func (r *opResult) skip(err error) {
	r.outcome = OutcomeSkipped
	r.err = err
}

func (r *opResult) fault(err error) {
	r.outcome = OutcomeFaulted
	r.err = err
}

// worker is the state owned by the drain goroutine. Nothing in here is
// shared; results reach the Drainer through publish and finalize.
type worker struct {
	d       *Drainer
	log     logrus.FieldLogger
	buf     []byte
	sum     hash.Hash64
	verbose int
	metrics RunMetrics
	seq     uint64
}

func (w *worker) run() {
	defer close(w.d.done)

	start := time.Now()
	for {
		// The flag must be loaded before the peek: anything enqueued before
		// Finish is then guaranteed to be seen on this or a later cycle.
		finishing := w.d.finishing.Load()
		op, depth, ok := w.d.queue.Front()
		if !ok {
			if finishing {
				break
			}
			t := time.Now()
			time.Sleep(w.d.poll)
			w.metrics.Idle += time.Since(t)
			continue
		}

		w.metrics.observeDepth(depth)
		w.observeDepth(depth)

		w.dispatch(op)

		if _, err := w.d.queue.PopFront(); err != nil {
			w.log.WithError(err).Error("failed to pop drained operation")
		}
		w.observeDepth(w.d.queue.Len())
		w.d.publish(w.metrics)
	}

	t := time.Now()
	if err := w.d.accessor.CloseAll(); err != nil {
		w.metrics.CloseErr = err.Error()
		w.log.WithError(err).Error("failed to close drained files")
	}
	w.metrics.Close = time.Since(t)
	w.metrics.Total = time.Since(start)

	w.d.finalize(w.metrics)
	w.report()
}

func (w *worker) report() {
	if w.verbose < 1 {
		return
	}
	entry := w.log.WithFields(logrus.Fields{
		"ops":     w.metrics.TotalOps(),
		"skipped": w.metrics.Skipped,
		"faulted": w.metrics.Faulted,
		"dropped": w.metrics.Dropped,
	})
	if w.metrics.Mismatch() {
		entry.Warn("drain finished with partial transfers: " + w.metrics.String())
		return
	}
	entry.Info("drain finished: " + w.metrics.String())
}

func (w *worker) opLogger(op DrainOperation) logrus.FieldLogger {
	fields := logrus.Fields{
		"op":  op.Kind.String(),
		"seq": w.seq,
		"to":  op.ToFileName,
	}
	if op.FromFileName != "" {
		fields["from"] = op.FromFileName
	}
	return w.log.WithFields(fields)
}

func (w *worker) dispatch(op DrainOperation) {
	w.seq++
	log := w.opLogger(op)
	if w.verbose >= 2 {
		log.WithFields(logrus.Fields{
			"bytes":       op.CountBytes,
			"from_offset": op.FromOffset,
			"to_offset":   op.ToOffset,
		}).Info("draining operation")
	}

	record := w.d.journal.Begin(w.d.runID, w.seq, op)
	w.sum.Reset()

	started := time.Now()
	res := w.execute(op)
	elapsed := time.Since(started)
	if res.written > 0 {
		res.checksum = w.sum.Sum64()
	}

	w.metrics.countOp(op.Kind, res.outcome)
	if w.d.observer != nil {
		w.d.observer.ObserveOperation(op.Kind, res.outcome, elapsed)
	}
	w.d.journal.Complete(record, res)

	switch res.outcome {
	case OutcomeSkipped, OutcomeDropped:
		log.WithError(res.err).Warn("drain operation " + res.outcome.String())
	case OutcomeFaulted:
		log.WithError(res.err).WithFields(logrus.Fields{
			"read":    res.read,
			"written": res.written,
		}).Error("drain operation faulted")
	}
}

// execute runs op and turns a panic from the accessor into a fault.
func (w *worker) execute(op DrainOperation) (res opResult) {
	defer func() {
		if r := recover(); r != nil {
			res.fault(fmt.Errorf("%w: panic during %s: %v", ErrTransferFault, op.Kind, r))
		}
	}()

	switch op.Kind {
	case OpCopy:
		w.copy(op, false, &res)
	case OpCopyAt:
		w.copy(op, true, &res)
	case OpWrite:
		w.write(op, false, &res)
	case OpWriteAt:
		w.write(op, true, &res)
	case OpCreate:
		w.open(op.ToFileName, provider.ModeWrite, &res)
	case OpOpen:
		w.open(op.ToFileName, provider.ModeAppend, &res)
	case OpSeekEnd:
		w.seekEnd(op, &res)
	default:
		res.outcome = OutcomeDropped
		res.err = fmt.Errorf("%w: %s", ErrUnknownOperation, op.Kind)
	}
	return res
}

func (w *worker) openRead(name string) (provider.Handle, error) {
	t := time.Now()
	h, err := w.d.accessor.Open(name, provider.ModeRead)
	w.metrics.Read += time.Since(t)
	if err != nil {
		return provider.InvalidHandle, fmt.Errorf("%w: %s for %s: %w", ErrOpenFailure, name, provider.ModeRead, err)
	}
	return h, nil
}

func (w *worker) openWrite(name string, mode provider.Mode) (provider.Handle, error) {
	t := time.Now()
	h, err := w.d.accessor.Open(name, mode)
	w.metrics.Write += time.Since(t)
	if err != nil {
		return provider.InvalidHandle, fmt.Errorf("%w: %s for %s: %w", ErrOpenFailure, name, mode, err)
	}
	return h, nil
}

func (w *worker) copy(op DrainOperation, positioned bool, res *opResult) {
	mode := provider.ModeAppend
	if positioned {
		mode = provider.ModeWrite
	}

	// Both ends are opened before either failure is acted on, so the
	// destination exists even when the source is missing.
	from, rerr := w.openRead(op.FromFileName)
	to, werr := w.openWrite(op.ToFileName, mode)
	if rerr != nil {
		res.skip(rerr)
		return
	}
	if werr != nil {
		res.skip(werr)
		return
	}

	if positioned {
		t := time.Now()
		_, err := w.d.accessor.Seek(from, op.FromOffset, io.SeekStart, op.FromFileName)
		w.metrics.ReadSeek += time.Since(t)
		if err != nil {
			res.fault(fmt.Errorf("%w: failed to seek %s to %d: %w", ErrTransferFault, op.FromFileName, op.FromOffset, err))
			return
		}

		t = time.Now()
		_, err = w.d.accessor.Seek(to, op.ToOffset, io.SeekStart, op.ToFileName)
		w.metrics.WriteSeek += time.Since(t)
		if err != nil {
			res.fault(fmt.Errorf("%w: failed to seek %s to %d: %w", ErrTransferFault, op.ToFileName, op.ToOffset, err))
			return
		}
	}

	full, remainder := SplitChunks(op.CountBytes, len(w.buf))
	for i := int64(0); i < full; i++ {
		if err := w.copyChunk(op, from, to, len(w.buf), res); err != nil {
			res.fault(err)
			return
		}
	}
	if remainder > 0 {
		if err := w.copyChunk(op, from, to, int(remainder), res); err != nil {
			res.fault(err)
			return
		}
	}
}

// copyChunk moves one chunk of n bytes through the worker buffer. A short
// read without an error writes only what was read and is not retried.
func (w *worker) copyChunk(op DrainOperation, from, to provider.Handle, n int, res *opResult) error {
	chunk := w.buf[:n]

	w.metrics.ReadTasked += int64(n)
	t := time.Now()
	r, err := w.d.accessor.Read(from, chunk, op.FromFileName)
	w.metrics.Read += time.Since(t)
	w.metrics.ReadSucceeded += int64(r)
	res.read += int64(r)
	w.observeBytes(DirectionRead, int64(n), int64(r))
	if err != nil {
		return fmt.Errorf("%w: failed to read %d bytes from %s: %w", ErrTransferFault, n, op.FromFileName, err)
	}

	w.metrics.WriteTasked += int64(n)
	t = time.Now()
	wn, err := w.d.accessor.Write(to, chunk[:r], op.ToFileName)
	w.metrics.Write += time.Since(t)
	w.metrics.WriteSucceeded += int64(wn)
	res.written += int64(wn)
	w.sum.Write(chunk[:wn])
	w.observeBytes(DirectionWrite, int64(n), int64(wn))
	if err != nil {
		return fmt.Errorf("%w: failed to write %d bytes to %s: %w", ErrTransferFault, r, op.ToFileName, err)
	}
	return nil
}

func (w *worker) write(op DrainOperation, positioned bool, res *opResult) {
	// Tasked before the open so that a skipped write shows up as a mismatch.
	w.metrics.WriteTasked += op.CountBytes

	to, err := w.openWrite(op.ToFileName, provider.ModeWrite)
	if err != nil {
		w.observeBytes(DirectionWrite, op.CountBytes, 0)
		res.skip(err)
		return
	}

	if positioned {
		t := time.Now()
		_, err := w.d.accessor.Seek(to, op.ToOffset, io.SeekStart, op.ToFileName)
		w.metrics.WriteSeek += time.Since(t)
		if err != nil {
			w.observeBytes(DirectionWrite, op.CountBytes, 0)
			res.fault(fmt.Errorf("%w: failed to seek %s to %d: %w", ErrTransferFault, op.ToFileName, op.ToOffset, err))
			return
		}
	}

	if len(op.Data) == 0 {
		return
	}

	t := time.Now()
	n, err := w.d.accessor.Write(to, op.Data, op.ToFileName)
	w.metrics.Write += time.Since(t)
	w.metrics.WriteSucceeded += int64(n)
	res.written += int64(n)
	w.sum.Write(op.Data[:n])
	w.observeBytes(DirectionWrite, op.CountBytes, int64(n))
	if err != nil {
		res.fault(fmt.Errorf("%w: failed to write %d bytes to %s: %w", ErrTransferFault, op.CountBytes, op.ToFileName, err))
	}
}

func (w *worker) open(name string, mode provider.Mode, res *opResult) {
	if _, err := w.openWrite(name, mode); err != nil {
		res.skip(err)
	}
}

func (w *worker) seekEnd(op DrainOperation, res *opResult) {
	to, err := w.openWrite(op.ToFileName, provider.ModeWrite)
	if err != nil {
		res.skip(err)
		return
	}

	t := time.Now()
	_, err = w.d.accessor.Seek(to, 0, io.SeekEnd, op.ToFileName)
	w.metrics.WriteSeek += time.Since(t)
	if err != nil {
		res.fault(fmt.Errorf("%w: failed to seek %s to end: %w", ErrTransferFault, op.ToFileName, err))
	}
}

func (w *worker) observeBytes(dir Direction, tasked, succeeded int64) {
	if w.d.observer != nil {
		w.d.observer.ObserveBytes(dir, tasked, succeeded)
	}
}

func (w *worker) observeDepth(depth int) {
	if w.d.observer != nil {
		w.d.observer.ObserveQueueDepth(depth)
	}
}
