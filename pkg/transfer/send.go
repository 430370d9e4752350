package transfer

import (
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

// SendOptions configures a Send call. All callbacks are optional and are
// invoked synchronously on the calling goroutine.
type SendOptions struct {
	Logger *slog.Logger

	// OnKeyReady is called with the share key as soon as it is
	// generated, before rendezvous begins, so the caller can display it
	// to the user immediately.
	OnKeyReady func(displayKey string)

	// OnProgress is called after every write to the socket, with
	// post-encryption bytes sent so far and the (approximate) total.
	OnProgress func(sent, total uint64)
}

// Send packs sourcePath, generates a fresh topic key, waits for a peer to
// rendezvous on it, and streams the encrypted, optionally compressed
// archive to that peer. It returns once the full pipeline has flushed and
// the socket's write half is closed, or the first fatal error
// encountered by any stage.
func Send(ctx context.Context, sourcePath string, opts SendOptions) (err error) {
	log := loggerOrDefault(opts.Logger)

	topic, display, err := key.Generate()
	if err != nil {
		return err
	}
	if opts.OnKeyReady != nil {
		opts.OnKeyReady(display)
	}

	meta, err := archive.Probe(sourcePath)
	if err != nil {
		return err
	}
	compressed := compress.ShouldCompress(sourcePath, meta.IsDirectory)

	socket, handle, err := rendezvous.DialSender(ctx, topic, log)
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

	preamble := Metadata{
		TotalSize:   meta.TotalSize,
		FileCount:   meta.FileCount,
		IsDirectory: meta.IsDirectory,
		Compressed:  compressed,
	}
	if err := writePreamble(socket, preamble); err != nil {
		return err
	}

	archiveReader, err := archive.Pack(sourcePath)
	if err != nil {
		return err
	}
	compressedReader := compress.Encode(archiveReader, compressed)

	encoder, err := aead.NewEncoder(compressedReader, session.aeadKey)
	if err != nil {
		return err
	}

	out := &countingWriter{
		w:     socket,
		total: &session.bytesTransferred,
		onUpdate: func(t uint64) {
			if opts.OnProgress != nil {
				opts.OnProgress(t, meta.TotalSize)
			}
		},
	}

	if _, err := io.Copy(out, encoder); err != nil {
		return &errs.IoError{Cause: err}
	}

	log.Info("transfer complete",
		slog.Uint64("bytesSent", uint64(session.BytesTransferred())),
		slog.Uint64("totalSize", meta.TotalSize),
	)
	return nil
}

func writePreamble(w io.Writer, m Metadata) error {
	line, err := json.Marshal(m)
	if err != nil {
		return &errs.IoError{Cause: err}
	}
	line = append(line, '\n')
	if _, err := w.Write(line); err != nil {
		return &errs.IoError{Cause: err}
	}
	return nil
}
