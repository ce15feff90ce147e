package engine

import "errors"

var (
	// ErrEmptyQueue is returned by PopFront on an empty queue. The worker only
	// pops after a successful Front, so seeing it indicates a bug.
	ErrEmptyQueue = errors.New("operation queue is empty")

	// ErrOpenFailure wraps accessor errors that prevented an endpoint from
	// being opened. The operation is skipped with zero bytes moved.
	ErrOpenFailure = errors.New("open failure")

	// ErrTransferFault wraps read, write or seek errors raised mid-operation.
	// The remainder of the operation is abandoned.
	ErrTransferFault = errors.New("transfer fault")

	// ErrUnknownOperation is recorded for operations of an unrecognized kind.
	ErrUnknownOperation = errors.New("unknown operation kind")

	// ErrInvalidOperation is returned by Enqueue for malformed operations.
	ErrInvalidOperation = errors.New("invalid drain operation")

	// ErrPayloadLength is returned by Enqueue when a write operation's data
	// length does not match its byte count.
	ErrPayloadLength = errors.New("payload length does not match count")

	// ErrAlreadyStarted is returned when configuring or starting a drainer
	// whose worker has already been started.
	ErrAlreadyStarted = errors.New("drainer already started")

	// ErrFinished is returned by Enqueue once Finish has been called.
	ErrFinished = errors.New("drainer is finishing")

	// ErrInvalidBufferSize is returned for non-positive buffer sizes.
	ErrInvalidBufferSize = errors.New("buffer size must be positive")
)
