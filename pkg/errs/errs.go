// Package errs defines the error kinds the hyperstream core surfaces.
//
// Every fatal error the pipeline produces is one of these, so callers can
// branch with errors.Is/errors.As instead of matching strings.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKeyLength is returned when a parsed share key does not
	// decode to exactly 32 bytes.
	ErrInvalidKeyLength = errors.New("hyperstream: invalid key length")

	// ErrRendezvousTimeout is returned when no peer connects within the
	// rendezvous deadline.
	ErrRendezvousTimeout = errors.New("hyperstream: rendezvous timed out")

	// ErrAuthenticationFailure is returned when a chunk's GCM tag fails
	// to verify.
	ErrAuthenticationFailure = errors.New("hyperstream: authentication failed")

	// ErrTruncatedStream is returned when EOF arrives before the AEAD
	// end marker.
	ErrTruncatedStream = errors.New("hyperstream: truncated stream")

	// ErrTrailingBytesAfterEnd is returned when bytes follow the AEAD end
	// marker.
	ErrTrailingBytesAfterEnd = errors.New("hyperstream: trailing bytes after end marker")

	// ErrChunkTooLarge is returned when a decoded chunk declares a length
	// above the 64 KiB cap.
	ErrChunkTooLarge = errors.New("hyperstream: chunk exceeds maximum size")

	// ErrInvalidCompressionFlag is returned when the first payload byte
	// is neither 0x00 nor 0x01.
	ErrInvalidCompressionFlag = errors.New("hyperstream: invalid compression flag")

	// ErrCancelled is returned when the caller cancels the session
	// context mid-transfer.
	ErrCancelled = errors.New("hyperstream: cancelled")

	// ErrNonceExhausted is returned if a session would need more than
	// 2^64 chunks under one AEAD key.
	ErrNonceExhausted = errors.New("hyperstream: chunk counter exhausted")
)

// RendezvousFailedError wraps a DHT-layer failure.
type RendezvousFailedError struct {
	Cause error
}

func (e *RendezvousFailedError) Error() string {
	return fmt.Sprintf("hyperstream: rendezvous failed: %v", e.Cause)
}

func (e *RendezvousFailedError) Unwrap() error { return e.Cause }

// DecompressionError wraps a rejection from the zstd decoder.
type DecompressionError struct {
	Cause error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("hyperstream: decompression error: %v", e.Cause)
}

func (e *DecompressionError) Unwrap() error { return e.Cause }

// UnsafeArchivePathError is returned when an archive entry name escapes
// the extraction destination.
type UnsafeArchivePathError struct {
	Name string
}

func (e *UnsafeArchivePathError) Error() string {
	return fmt.Sprintf("hyperstream: unsafe archive path: %q", e.Name)
}

// ArchiveFormatError wraps a malformed tar stream.
type ArchiveFormatError struct {
	Cause error
}

func (e *ArchiveFormatError) Error() string {
	return fmt.Sprintf("hyperstream: archive format error: %v", e.Cause)
}

func (e *ArchiveFormatError) Unwrap() error { return e.Cause }

// IoError wraps an underlying disk or socket failure encountered by a
// pipeline stage.
type IoError struct {
	Cause error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("hyperstream: io error: %v", e.Cause)
}

func (e *IoError) Unwrap() error { return e.Cause }
