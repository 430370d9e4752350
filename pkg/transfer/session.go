// Package transfer implements the transfer orchestrator (C6): it composes
// the preamble, compression, AEAD, and archive stages over one rendezvous
// socket and drives the pipeline end to end.
package transfer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mjvec/hyperstream/pkg/key"
	"github.com/mjvec/hyperstream/pkg/logging"
	"github.com/mjvec/hyperstream/pkg/rendezvous"
)

// Metadata is the cleartext preamble sent ahead of the encrypted payload.
// Its values are advisory only — they are not integrity-protected by the
// AEAD stream and MUST NOT be trusted for any security-critical decision.
type Metadata struct {
	TotalSize   uint64 `json:"totalSize"`
	FileCount   uint32 `json:"fileCount"`
	IsDirectory bool   `json:"isDirectory"`
	Compressed  bool   `json:"compressed"`
}

// Session owns every resource a single transfer allocates: the topic key,
// the derived AEAD key, the rendezvous handle, and the connected socket.
// It releases all of them exactly once, on any exit path.
type Session struct {
	ID      string
	Topic   key.TopicKey
	aeadKey key.AeadKey

	handle *rendezvous.Handle
	socket rendezvous.Socket

	bytesTransferred atomic.Int64

	log *slog.Logger

	closeOnce sync.Once
}

func newSession(topic key.TopicKey, socket rendezvous.Socket, handle *rendezvous.Handle, log *slog.Logger) *Session {
	log = logging.OrDefault(log)
	id := logging.SessionID()
	return &Session{
		ID:      id,
		Topic:   topic,
		aeadKey: key.Derive(topic),
		handle:  handle,
		socket:  socket,
		log:     log.With(slog.String("session", id)),
	}
}

// BytesTransferred returns the number of post-encryption, post-socket
// bytes moved so far. Exact fidelity against totalSize is not guaranteed;
// compression makes the comparison approximate.
func (s *Session) BytesTransferred() int64 {
	return s.bytesTransferred.Load()
}

// Close releases the socket and the rendezvous handle. Safe to call more
// than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.socket != nil {
			_ = s.socket.Close()
		}
		if s.handle != nil {
			s.handle.Destroy()
		}
	})
}

// watchCancel closes the session as soon as ctx is cancelled, turning a
// blocked socket read or write into an error that Send/Receive map to
// errs.ErrCancelled.
func (s *Session) watchCancel(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.Close()
	}()
}
