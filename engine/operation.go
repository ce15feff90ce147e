package engine

import (
	"bytes"
	"fmt"
)

// OpKind identifies what a DrainOperation does.
type OpKind int

const (
	// OpCopy appends CountBytes from the source's cursor to the destination's cursor.
	OpCopy OpKind = iota
	// OpCopyAt copies CountBytes from FromOffset in the source to ToOffset in the destination.
	OpCopyAt
	// OpWrite writes Data at the destination's cursor.
	OpWrite
	// OpWriteAt writes Data at ToOffset in the destination.
	OpWriteAt
	// OpCreate creates or truncates the destination.
	OpCreate
	// OpOpen opens the destination for append without truncating it.
	OpOpen
	// OpSeekEnd moves the destination's cursor to end of file.
	OpSeekEnd

	numOpKinds
)

func (k OpKind) String() string {
	switch k {
	case OpCopy:
		return "Copy"
	case OpCopyAt:
		return "CopyAt"
	case OpWrite:
		return "Write"
	case OpWriteAt:
		return "WriteAt"
	case OpCreate:
		return "Create"
	case OpOpen:
		return "Open"
	case OpSeekEnd:
		return "SeekEnd"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Known reports whether the worker knows how to dispatch k.
func (k OpKind) Known() bool {
	return k >= OpCopy && k < numOpKinds
}

// DrainOperation is a request to perform one unit of file work. Offsets are
// only meaningful for OpCopyAt and OpWriteAt; Data only for OpWrite and
// OpWriteAt.
type DrainOperation struct {
	Kind OpKind

	// FromFileName is the source for copy kinds.
	FromFileName string

	// ToFileName is the destination for every kind.
	ToFileName string

	FromOffset int64
	ToOffset   int64

	// CountBytes is the number of bytes to copy, or len(Data) for write kinds.
	CountBytes int64

	// Data is the payload of write kinds. It must not be modified after the
	// operation is enqueued.
	Data []byte
}

// Validate checks that write kinds carry exactly CountBytes of payload.
func (op DrainOperation) Validate() error {
	if op.CountBytes < 0 {
		return fmt.Errorf("%w: negative count %d", ErrInvalidOperation, op.CountBytes)
	}
	if (op.Kind == OpWrite || op.Kind == OpWriteAt) && int64(len(op.Data)) != op.CountBytes {
		return fmt.Errorf("%w: %d bytes of data for count %d", ErrPayloadLength, len(op.Data), op.CountBytes)
	}
	return nil
}

// NewCopyOp builds an OpCopy operation.
func NewCopyOp(from, to string, count int64) DrainOperation {
	return DrainOperation{Kind: OpCopy, FromFileName: from, ToFileName: to, CountBytes: count}
}

// NewCopyAtOp builds an OpCopyAt operation.
func NewCopyAtOp(from, to string, fromOffset, toOffset, count int64) DrainOperation {
	return DrainOperation{
		Kind:         OpCopyAt,
		FromFileName: from,
		ToFileName:   to,
		FromOffset:   fromOffset,
		ToOffset:     toOffset,
		CountBytes:   count,
	}
}

// NewWriteOp builds an OpWrite operation holding a private copy of data.
func NewWriteOp(to string, data []byte) DrainOperation {
	return DrainOperation{Kind: OpWrite, ToFileName: to, CountBytes: int64(len(data)), Data: bytes.Clone(data)}
}

// NewWriteAtOp builds an OpWriteAt operation holding a private copy of data.
func NewWriteAtOp(to string, offset int64, data []byte) DrainOperation {
	return DrainOperation{
		Kind:       OpWriteAt,
		ToFileName: to,
		ToOffset:   offset,
		CountBytes: int64(len(data)),
		Data:       bytes.Clone(data),
	}
}

// NewCreateOp builds an OpCreate operation.
func NewCreateOp(to string) DrainOperation {
	return DrainOperation{Kind: OpCreate, ToFileName: to}
}

// NewOpenOp builds an OpOpen operation.
func NewOpenOp(to string) DrainOperation {
	return DrainOperation{Kind: OpOpen, ToFileName: to}
}

// NewSeekEndOp builds an OpSeekEnd operation.
func NewSeekEndOp(to string) DrainOperation {
	return DrainOperation{Kind: OpSeekEnd, ToFileName: to}
}
