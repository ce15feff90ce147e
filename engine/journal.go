package engine

import (
	"github.com/sirupsen/logrus"

	"github.com/franksops/bbdrain/store"
)

// Journal records every dispatched operation and its outcome in a store.
// Store errors are logged and otherwise ignored: the journal never affects
// draining. A nil *Journal is valid and records nothing.
type Journal struct {
	store store.Store
	log   logrus.FieldLogger
}

// NewJournal creates a Journal over s. A nil logger falls back to the
// logrus standard logger.
func NewJournal(s store.Store, log logrus.FieldLogger) *Journal {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Journal{store: s, log: log}
}

func stateFor(outcome Outcome) store.OpState {
	switch outcome {
	case OutcomeCompleted:
		return store.StateCompleted
	case OutcomeSkipped:
		return store.StateSkipped
	case OutcomeFaulted:
		return store.StateFailed
	case OutcomeDropped:
		return store.StateDropped
	default:
		return store.StateFailed
	}
}

// Begin saves op as in progress and returns its record for Complete.
func (j *Journal) Begin(runID string, seq uint64, op DrainOperation) *store.OpRecord {
	if j == nil {
		return nil
	}

	record := &store.OpRecord{
		RunID:        runID,
		Seq:          seq,
		Kind:         op.Kind.String(),
		FromFileName: op.FromFileName,
		ToFileName:   op.ToFileName,
		FromOffset:   op.FromOffset,
		ToOffset:     op.ToOffset,
		CountBytes:   op.CountBytes,
		State:        store.StateInProgress,
	}
	j.save(record)
	return record
}

// Complete stores the final state of a record returned by Begin.
func (j *Journal) Complete(record *store.OpRecord, res opResult) {
	if j == nil || record == nil {
		return
	}

	record.State = stateFor(res.outcome)
	record.BytesRead = res.read
	record.BytesWritten = res.written
	record.Checksum = res.checksum
	if res.err != nil {
		record.Error = res.err.Error()
	}
	j.save(record)
}

// List returns the records of a run in dispatch order.
func (j *Journal) List(runID string) ([]*store.OpRecord, error) {
	return j.store.ListRun(runID)
}

func (j *Journal) save(record *store.OpRecord) {
	if err := j.store.SaveOp(record); err != nil {
		j.log.WithError(err).WithFields(logrus.Fields{
			"run": record.RunID,
			"seq": record.Seq,
		}).Warn("failed to journal operation")
	}
}
