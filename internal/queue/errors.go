package queue

import "errors"

var (
	// ErrQueueClosed is returned by every operation after Close.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrItemNotFound is returned when a dead letter id is unknown.
	ErrItemNotFound = errors.New("dead letter not found")

	// ErrMaxRetriesExceeded wraps the last error of a message that was parked.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrMalformedMessage is returned by Message.Decode for payloads that can
	// never be processed.
	ErrMalformedMessage = errors.New("malformed message")
)
