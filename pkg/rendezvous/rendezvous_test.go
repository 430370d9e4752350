package rendezvous

import (
	"testing"

	"github.com/mjvec/hyperstream/pkg/key"
	"github.com/stretchr/testify/require"
)

// topicNamespace is the only piece of this package with no network
// dependency; everything else requires a live DHT and is exercised
// manually rather than in CI.
func TestTopicNamespaceIsStableAndDistinct(t *testing.T) {
	t1, _, err := key.Generate()
	require.NoError(t, err)
	t2, _, err := key.Generate()
	require.NoError(t, err)

	require.Equal(t, topicNamespace(t1), topicNamespace(t1))
	require.NotEqual(t, topicNamespace(t1), topicNamespace(t2))
	require.Contains(t, topicNamespace(t1), "hyperstream/")
}
