package transfer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mjvec/hyperstream/pkg/key"
	"github.com/stretchr/testify/require"
)

func TestNewSessionDerivesKeyAndID(t *testing.T) {
	topic, _, err := key.Generate()
	require.NoError(t, err)

	client, server := net.Pipe()
	defer server.Close()

	s := newSession(topic, client, nil, nil)
	require.NotEmpty(t, s.ID)
	require.Equal(t, key.Derive(topic), s.aeadKey)
	require.Zero(t, s.BytesTransferred())

	s.Close()
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	topic, _, err := key.Generate()
	require.NoError(t, err)

	client, server := net.Pipe()
	defer server.Close()

	s := newSession(topic, client, nil, nil)
	s.Close()
	s.Close()
	s.Close()
}

func TestWatchCancelClosesSessionOnContextDone(t *testing.T) {
	topic, _, err := key.Generate()
	require.NoError(t, err)

	client, server := net.Pipe()
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s := newSession(topic, client, nil, nil)
	s.watchCancel(ctx)
	cancel()

	require.Eventually(t, func() bool {
		_, err := client.Write([]byte("x"))
		return err != nil
	}, time.Second, 5*time.Millisecond)
}
