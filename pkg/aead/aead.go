// Package aead implements the chunked AEAD stream codec (C5): streaming
// authenticated encryption with a per-chunk GCM tag, so corruption or a
// wrong key is detected on the first bad chunk instead of after buffering
// an entire file.
//
// Wire format:
//
//	stream := nonce_prefix(4) chunk* end_marker(4 zero bytes)
//	chunk   := length_be32 ciphertext(length) tag(16)
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/mjvec/hyperstream/pkg/errs"
	"github.com/mjvec/hyperstream/pkg/key"
)

const (
	// ChunkSize is the plaintext size of a full chunk: 64 KiB.
	ChunkSize = 64 * 1024

	noncePrefixSize = 4
	nonceSize       = 12
	tagSize         = 16
)

func newGCM(k key.AeadKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encoder wraps a plaintext io.Reader, emitting the chunk-framed AEAD
// stream described above. It is pull-based: nothing is encrypted until
// the caller reads.
type Encoder struct {
	src     io.Reader
	aead    cipher.AEAD
	prefix  [noncePrefixSize]byte
	counter uint64

	buf       []byte // serialized output not yet returned to the caller
	plainBuf  []byte // reusable plaintext staging buffer, len == ChunkSize
	wrotePfx  bool
	srcEOF    bool
	halted    bool
	sealError error
}

// NewEncoder creates an Encoder over src using aeadKey, generating a
// fresh random nonce prefix for this stream.
func NewEncoder(src io.Reader, aeadKey key.AeadKey) (*Encoder, error) {
	a, err := newGCM(aeadKey)
	if err != nil {
		return nil, &errs.IoError{Cause: err}
	}
	e := &Encoder{
		src:      src,
		aead:     a,
		plainBuf: make([]byte, ChunkSize),
	}
	if _, err := io.ReadFull(rand.Reader, e.prefix[:]); err != nil {
		return nil, &errs.IoError{Cause: err}
	}
	return e, nil
}

// Read implements io.Reader, serving the framed ciphertext a buffer at a
// time.
func (e *Encoder) Read(p []byte) (int, error) {
	for len(e.buf) == 0 {
		if e.sealError != nil {
			return 0, e.sealError
		}
		if e.halted {
			return 0, io.EOF
		}
		if !e.wrotePfx {
			e.buf = append(e.buf, e.prefix[:]...)
			e.wrotePfx = true
			break
		}
		if e.srcEOF {
			e.buf = appendEndMarker(e.buf)
			e.halted = true
			break
		}
		n, err := io.ReadFull(e.src, e.plainBuf)
		switch {
		case err == nil:
			// full chunk
		case err == io.ErrUnexpectedEOF:
			e.srcEOF = true
		case err == io.EOF:
			e.srcEOF = true
			n = 0
		default:
			e.sealError = &errs.IoError{Cause: err}
			continue
		}
		if n > 0 {
			chunk, sealErr := e.sealChunk(e.plainBuf[:n])
			if sealErr != nil {
				e.sealError = sealErr
				continue
			}
			e.buf = append(e.buf, chunk...)
		}
	}
	n := copy(p, e.buf)
	e.buf = e.buf[n:]
	return n, nil
}

func (e *Encoder) sealChunk(plain []byte) ([]byte, error) {
	if e.counter == 1<<64-1 {
		return nil, errs.ErrNonceExhausted
	}
	nonce := e.nonceFor(e.counter)
	e.counter++

	out := make([]byte, 4, 4+len(plain)+tagSize)
	binary.BigEndian.PutUint32(out, uint32(len(plain)))
	out = e.aead.Seal(out, nonce[:], plain, nil)
	return out, nil
}

func (e *Encoder) nonceFor(counter uint64) [nonceSize]byte {
	var n [nonceSize]byte
	copy(n[:noncePrefixSize], e.prefix[:])
	binary.BigEndian.PutUint64(n[noncePrefixSize:], counter)
	return n
}

func appendEndMarker(buf []byte) []byte {
	return append(buf, 0, 0, 0, 0)
}

// decoder states, per spec.md §4.5.
type decodeState int

const (
	stateReadPrefix decodeState = iota
	stateReadLen
	stateReadBody
	stateHalt
)

// Decoder consumes a framed AEAD stream and yields verified plaintext. It
// MUST NOT emit a chunk's plaintext before that chunk's tag has verified,
// which is what gives the stream fail-fast tamper detection.
type Decoder struct {
	src  io.Reader
	aead cipher.AEAD

	state   decodeState
	prefix  [noncePrefixSize]byte
	counter uint64

	pending []byte // verified plaintext not yet returned to the caller
	err     error
}

// NewDecoder creates a Decoder over src using aeadKey. The nonce prefix is
// read lazily, on the first call to Read.
func NewDecoder(src io.Reader, aeadKey key.AeadKey) (*Decoder, error) {
	a, err := newGCM(aeadKey)
	if err != nil {
		return nil, &errs.IoError{Cause: err}
	}
	return &Decoder{src: src, aead: a, state: stateReadPrefix}, nil
}

// Read implements io.Reader. It fails with errs.ErrAuthenticationFailure
// on a tag mismatch, errs.ErrTruncatedStream on EOF before the end
// marker, and errs.ErrTrailingBytesAfterEnd if bytes follow it.
func (d *Decoder) Read(p []byte) (int, error) {
	for len(d.pending) == 0 {
		if d.err != nil {
			return 0, d.err
		}
		switch d.state {
		case stateReadPrefix:
			if _, err := io.ReadFull(d.src, d.prefix[:]); err != nil {
				d.err = wrapReadErr(err, errs.ErrTruncatedStream)
				continue
			}
			d.state = stateReadLen
		case stateReadLen:
			var lenBuf [4]byte
			if _, err := io.ReadFull(d.src, lenBuf[:]); err != nil {
				d.err = wrapReadErr(err, errs.ErrTruncatedStream)
				continue
			}
			length := binary.BigEndian.Uint32(lenBuf[:])
			if length == 0 {
				d.state = stateHalt
				continue
			}
			if length > ChunkSize {
				d.err = errs.ErrChunkTooLarge
				continue
			}
			body := make([]byte, int(length)+tagSize)
			if _, err := io.ReadFull(d.src, body); err != nil {
				d.err = wrapReadErr(err, errs.ErrTruncatedStream)
				continue
			}
			plain, err := d.openChunk(body)
			if err != nil {
				d.err = err
				continue
			}
			d.pending = plain
			d.state = stateReadLen
		case stateHalt:
			var extra [1]byte
			n, err := d.src.Read(extra[:])
			if n > 0 || (err != nil && err != io.EOF) {
				d.err = errs.ErrTrailingBytesAfterEnd
				continue
			}
			d.err = io.EOF
		}
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *Decoder) openChunk(body []byte) ([]byte, error) {
	nonce := d.nonceFor(d.counter)
	d.counter++
	plain, err := d.aead.Open(nil, nonce[:], body, nil)
	if err != nil {
		return nil, errs.ErrAuthenticationFailure
	}
	return plain, nil
}

func (d *Decoder) nonceFor(counter uint64) [nonceSize]byte {
	var n [nonceSize]byte
	copy(n[:noncePrefixSize], d.prefix[:])
	binary.BigEndian.PutUint64(n[noncePrefixSize:], counter)
	return n
}

func wrapReadErr(err, truncated error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return truncated
	}
	return &errs.IoError{Cause: err}
}
