package engine

import (
	"fmt"
	"io"

	"github.com/franksops/bbdrain/provider"
	"github.com/franksops/bbdrain/store"
)

// VerifyStatus is the result of checking one journaled write against the
// destination.
type VerifyStatus string

const (
	VerifyOK       VerifyStatus = "ok"
	VerifyMismatch VerifyStatus = "mismatch"
	// VerifyUnknown marks a write whose position cannot be reconstructed from
	// the journal, or whose bytes a later operation of the run overwrote.
	VerifyUnknown VerifyStatus = "unverifiable"
	// VerifyError marks a write whose range could not be read back.
	VerifyError VerifyStatus = "error"
)

// Verification is the outcome of checking one completed record.
type Verification struct {
	Record *store.OpRecord
	// Offset is where the record's bytes start in the destination, -1 if unknown.
	Offset int64
	Status VerifyStatus
	Actual uint64
	Err    error
}

// Verify re-reads the destination range of every completed write of runID
// through accessor and compares its CRC-64 with the journaled one.
func (j *Journal) Verify(runID string, accessor provider.FileAccessor) ([]Verification, error) {
	records, err := j.List(runID)
	if err != nil {
		return nil, err
	}
	return VerifyRecords(records, accessor)
}

// writeRange is the destination span one record wrote to.
type writeRange struct {
	record *store.OpRecord
	start  int64
	known  bool
}

func (r writeRange) end() int64 {
	return r.start + r.record.BytesWritten
}

// destCursor tracks the write handle of one destination across a run, the
// way the worker's accessor sees it: the first write-side open decides
// between truncation and append, later opens reuse the handle.
type destCursor struct {
	opened    bool
	pos       int64
	posKnown  bool
	size      int64
	sizeKnown bool
}

func (c *destCursor) open(mode provider.Mode) {
	if c.opened {
		return
	}
	c.opened = true
	if mode == provider.ModeWrite {
		c.pos, c.size = 0, 0
		c.posKnown, c.sizeKnown = true, true
	}
}

func (c *destCursor) advance(n int64) {
	c.pos += n
	if c.sizeKnown && c.pos > c.size {
		c.size = c.pos
	}
}

func (c *destCursor) forget() {
	c.opened = true
	c.posKnown, c.sizeKnown = false, false
}

// destMode is the mode the worker opens the destination of kind with.
func destMode(kind string) (provider.Mode, bool) {
	switch kind {
	case OpCopy.String(), OpOpen.String():
		return provider.ModeAppend, true
	case OpCopyAt.String(), OpWrite.String(), OpWriteAt.String(), OpCreate.String(), OpSeekEnd.String():
		return provider.ModeWrite, true
	}
	return 0, false
}

// writeRanges replays the records of a run in dispatch order and returns,
// per destination, the span each record wrote.
func writeRanges(records []*store.OpRecord) map[string][]writeRange {
	cursors := make(map[string]*destCursor)
	ranges := make(map[string][]writeRange)

	for _, rec := range records {
		mode, ok := destMode(rec.Kind)
		if !ok || rec.State == store.StateDropped {
			continue
		}
		c := cursors[rec.ToFileName]
		if c == nil {
			c = &destCursor{}
			cursors[rec.ToFileName] = c
		}

		if rec.State == store.StateSkipped {
			// A skipped copy may still have opened its destination.
			if (rec.Kind == OpCopy.String() || rec.Kind == OpCopyAt.String()) && !c.opened {
				c.forget()
			}
			continue
		}
		c.open(mode)

		r := writeRange{record: rec}
		switch rec.Kind {
		case OpCopyAt.String(), OpWriteAt.String():
			r.start, r.known = rec.ToOffset, true
			c.pos, c.posKnown = rec.ToOffset, true
			if c.sizeKnown && rec.ToOffset > c.size {
				c.size = rec.ToOffset
			}
		case OpCopy.String(), OpWrite.String():
			r.start, r.known = c.pos, c.posKnown
		case OpSeekEnd.String():
			c.pos, c.posKnown = c.size, c.sizeKnown
		}
		if rec.BytesWritten > 0 {
			if !r.known {
				c.sizeKnown = false
			}
			c.advance(rec.BytesWritten)
			ranges[rec.ToFileName] = append(ranges[rec.ToFileName], r)
		}
		if rec.State != store.StateCompleted {
			c.posKnown = false
		}
	}
	return ranges
}

// overwritten reports whether a later range of the same destination may
// cover any byte of ranges[i].
func overwritten(ranges []writeRange, i int) bool {
	r := ranges[i]
	for _, later := range ranges[i+1:] {
		if !later.known {
			return true
		}
		if later.start < r.end() && r.start < later.end() {
			return true
		}
	}
	return false
}

// VerifyRecords checks every completed record that wrote bytes. records must
// be one run in dispatch order, as returned by store.Store.ListRun.
func VerifyRecords(records []*store.OpRecord, accessor provider.FileAccessor) ([]Verification, error) {
	var results []Verification
	for _, rec := range records {
		if rec.State == store.StateCompleted && rec.BytesWritten > 0 {
			results = append(results, Verification{Record: rec, Offset: -1, Status: VerifyUnknown})
		}
	}
	if len(results) == 0 {
		return nil, nil
	}

	ranges := writeRanges(records)
	for i := range results {
		v := &results[i]
		spans := ranges[v.Record.ToFileName]
		for k, r := range spans {
			if r.record != v.Record {
				continue
			}
			if !r.known || overwritten(spans, k) {
				break
			}
			v.Offset = r.start
			v.Actual, v.Err = checksumRange(accessor, v.Record.ToFileName, r.start, v.Record.BytesWritten)
			switch {
			case v.Err != nil:
				v.Status = VerifyError
			case v.Actual != v.Record.Checksum:
				v.Status = VerifyMismatch
			default:
				v.Status = VerifyOK
			}
			break
		}
	}

	if err := accessor.CloseAll(); err != nil {
		return results, fmt.Errorf("failed to close verified files: %w", err)
	}
	return results, nil
}

// accessorReader reads a fixed number of bytes from an accessor handle.
type accessorReader struct {
	accessor  provider.FileAccessor
	handle    provider.Handle
	name      string
	remaining int64
}

func (r *accessorReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.accessor.Read(r.handle, p, r.name)
	r.remaining -= int64(n)
	if err == nil && n == 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

func checksumRange(accessor provider.FileAccessor, name string, offset, count int64) (uint64, error) {
	h, err := accessor.Open(name, provider.ModeRead)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrOpenFailure, name, err)
	}
	if _, err := accessor.Seek(h, offset, io.SeekStart, name); err != nil {
		return 0, err
	}
	sum, n, err := ChecksumReader(&accessorReader{accessor: accessor, handle: h, name: name, remaining: count})
	if err != nil {
		return 0, err
	}
	if n != count {
		return 0, fmt.Errorf("read %d of %d bytes from %s: %w", n, count, name, io.ErrUnexpectedEOF)
	}
	return sum, nil
}
