// Package compress implements the framed, optional compression codec
// (C4): a single leading flag byte makes the stream self-describing, so
// the decoder never needs to be told out of band whether the payload was
// compressed.
package compress

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/mjvec/hyperstream/pkg/errs"
)

const (
	// FlagRaw marks an uncompressed passthrough stream.
	FlagRaw byte = 0x00
	// FlagCompressed marks a Zstandard-compressed stream.
	FlagCompressed byte = 0x01

	// Level is the fixed Zstandard level used for every compressed
	// stream: a deliberate "good balance" choice, not tunable per
	// transfer.
	Level = zstd.SpeedDefault
)

// skipExtensions holds extensions for which compression is known to be
// wasted effort: existing archives, compressed media, and office
// documents that are themselves zip containers.
var skipExtensions = map[string]struct{}{
	".zip": {}, ".gz": {}, ".tgz": {}, ".bz2": {}, ".xz": {}, ".7z": {}, ".rar": {}, ".zst": {},
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".heic": {},
	".mp3": {}, ".mp4": {}, ".m4a": {}, ".mov": {}, ".mkv": {}, ".avi": {}, ".flac": {}, ".ogg": {},
	".docx": {}, ".xlsx": {}, ".pptx": {}, ".pdf": {},
}

// ShouldCompress decides whether the sender should enable compression,
// based solely on the top-level source path's extension (case
// insensitive). Directories and unknown extensions enable compression.
func ShouldCompress(sourcePath string, isDirectory bool) bool {
	if isDirectory {
		return true
	}
	ext := strings.ToLower(filepath.Ext(sourcePath))
	_, skip := skipExtensions[ext]
	return !skip
}

// Encode wraps src, returning a reader that yields the flag byte followed
// by either a passthrough or a Zstandard-compressed copy of src.
func Encode(src io.Reader, enabled bool) io.Reader {
	if !enabled {
		return io.MultiReader(singleByteReader(FlagRaw), src)
	}

	pr, pw := io.Pipe()
	go func() {
		zw, err := zstd.NewWriter(pw, zstd.WithEncoderLevel(Level))
		if err != nil {
			pw.CloseWithError(&errs.IoError{Cause: err})
			return
		}
		_, copyErr := io.Copy(zw, src)
		closeErr := zw.Close()
		if copyErr == nil {
			copyErr = closeErr
		}
		pw.CloseWithError(copyErr)
	}()
	return io.MultiReader(singleByteReader(FlagCompressed), pr)
}

// Decode reads the leading flag byte from src (before anything else, per
// the wire contract) and returns a reader over the decompressed or
// passthrough payload.
func Decode(src io.Reader) (io.Reader, error) {
	var flag [1]byte
	if _, err := io.ReadFull(src, flag[:]); err != nil {
		return nil, &errs.IoError{Cause: err}
	}
	switch flag[0] {
	case FlagRaw:
		return src, nil
	case FlagCompressed:
		dec, err := zstd.NewReader(src)
		if err != nil {
			return nil, &errs.DecompressionError{Cause: err}
		}
		return &decoderReader{dec: dec}, nil
	default:
		return nil, errs.ErrInvalidCompressionFlag
	}
}

// decoderReader adapts *zstd.Decoder's Read to surface truncated-frame
// failures as errs.DecompressionError instead of a bare stdlib error.
type decoderReader struct {
	dec *zstd.Decoder
}

func (d *decoderReader) Read(p []byte) (int, error) {
	n, err := d.dec.Read(p)
	if err != nil && err != io.EOF {
		return n, &errs.DecompressionError{Cause: err}
	}
	return n, err
}

func singleByteReader(b byte) io.Reader {
	return bytes.NewReader([]byte{b})
}
