package transfer

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/mjvec/hyperstream/pkg/aead"
	"github.com/mjvec/hyperstream/pkg/archive"
	"github.com/mjvec/hyperstream/pkg/compress"
	"github.com/mjvec/hyperstream/pkg/errs"
	"github.com/mjvec/hyperstream/pkg/key"
	"github.com/mjvec/hyperstream/pkg/rendezvous"
)

// ReceiveOptions configures a Receive call. All callbacks are optional
// and invoked synchronously on the calling goroutine.
type ReceiveOptions struct {
	Logger *slog.Logger

	// OnPreamble is called once, as soon as the cleartext metadata line
	// has been parsed. Its values are advisory only (see Metadata).
	OnPreamble func(Metadata)

	// OnProgress is called after every read from the socket, with bytes
	// read so far (post-preamble) and the (approximate) total.
	OnProgress func(received, total uint64)
}

// Receive parses displayKey, rendezvouses with the sender, and extracts
// the decrypted, decompressed archive into destDir. It returns once the
// AEAD end marker has been observed and every entry has been written, or
// the first fatal error encountered by any stage.
func Receive(ctx context.Context, displayKey string, destDir string, opts ReceiveOptions) (err error) {
	log := loggerOrDefault(opts.Logger)

	topic, err := key.Parse(displayKey)
	if err != nil {
		return err
	}

	socket, handle, err := rendezvous.DialReceiver(ctx, topic, log)
	if err != nil {
		return err
	}
	session := newSession(topic, socket, handle, log)
	session.watchCancel(ctx)
	defer session.Close()
	defer func() {
		if err != nil {
			err = remapCancelled(ctx, err)
		}
	}()

	br := bufio.NewReader(socket)
	meta, err := readPreamble(br)
	if err != nil {
		return err
	}
	if opts.OnPreamble != nil {
		opts.OnPreamble(meta)
	}

	counted := &countingReader{
		r:     br,
		total: &session.bytesTransferred,
		onUpdate: func(t uint64) {
			if opts.OnProgress != nil {
				opts.OnProgress(t, meta.TotalSize)
			}
		},
	}

	decoder, err := aead.NewDecoder(counted, session.aeadKey)
	if err != nil {
		return err
	}

	decompressed, err := compress.Decode(decoder)
	if err != nil {
		return err
	}

	if err := archive.Extract(decompressed, destDir); err != nil {
		return err
	}

	// The tar terminator ends Extract before the AEAD end marker is read;
	// reading on to EOF verifies the end marker and rejects truncation or
	// trailing bytes.
	if _, err := io.Copy(io.Discard, decompressed); err != nil {
		return err
	}

	log.Info("transfer complete",
		slog.Uint64("bytesReceived", uint64(session.BytesTransferred())),
		slog.Uint64("totalSize", meta.TotalSize),
	)
	return nil
}

func readPreamble(br *bufio.Reader) (Metadata, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return Metadata{}, &errs.IoError{Cause: err}
	}
	var m Metadata
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return Metadata{}, &errs.IoError{Cause: err}
	}
	return m, nil
}
