package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionIDIsHexAndVaries(t *testing.T) {
	a := SessionID()
	b := SessionID()
	require.Len(t, a, 8)
	require.Regexp(t, "^[0-9a-f]{8}$", a)
	require.NotEqual(t, a, b)
}

func TestOrDefaultFallsBackWhenNil(t *testing.T) {
	require.Same(t, Default, OrDefault(nil))
}
