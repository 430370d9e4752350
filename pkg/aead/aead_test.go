package aead

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/mjvec/hyperstream/pkg/errs"
	"github.com/mjvec/hyperstream/pkg/key"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) key.AeadKey {
	t.Helper()
	var k key.AeadKey
	_, err := rand.Read(k[:])
	require.NoError(t, err)
	return k
}

func encodeAll(t *testing.T, k key.AeadKey, plaintext []byte) []byte {
	t.Helper()
	enc, err := NewEncoder(bytes.NewReader(plaintext), k)
	require.NoError(t, err)
	out, err := io.ReadAll(enc)
	require.NoError(t, err)
	return out
}

func decodeAll(k key.AeadKey, wire []byte) ([]byte, error) {
	dec, err := NewDecoder(bytes.NewReader(wire), k)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(dec)
}

func TestRoundtripVariousSizes(t *testing.T) {
	k := randomKey(t)
	sizes := []int{0, 1, 100, ChunkSize - 1, ChunkSize, ChunkSize + 1, 3*ChunkSize + 17}
	for _, size := range sizes {
		plaintext := make([]byte, size)
		for i := range plaintext {
			plaintext[i] = byte(i % 256)
		}
		wire := encodeAll(t, k, plaintext)
		got, err := decodeAll(k, wire)
		require.NoError(t, err, "size %d", size)
		require.Equal(t, plaintext, got, "size %d", size)
	}
}

func TestEmptyStreamStillEmitsPrefixAndEndMarker(t *testing.T) {
	k := randomKey(t)
	wire := encodeAll(t, k, nil)
	// 4-byte nonce prefix + 4-byte zero end marker, zero chunks.
	require.Len(t, wire, 8)
	require.Equal(t, []byte{0, 0, 0, 0}, wire[4:8])
}

func TestMultiChunkEmitsExpectedChunkCount(t *testing.T) {
	k := randomKey(t)
	plaintext := make([]byte, 3*ChunkSize+1000)
	wire := encodeAll(t, k, plaintext)

	// Walk the wire by hand to count chunk headers.
	body := wire[noncePrefixSize:]
	chunks := 0
	for {
		length := uint32(body[0])<<24 | uint32(body[1])<<16 | uint32(body[2])<<8 | uint32(body[3])
		body = body[4:]
		if length == 0 {
			break
		}
		chunks++
		body = body[int(length)+tagSize:]
	}
	require.GreaterOrEqual(t, chunks, 4)
}

func TestWrongKeyFailsAuthentication(t *testing.T) {
	k1 := randomKey(t)
	k2 := randomKey(t)
	wire := encodeAll(t, k1, []byte("hello hyperstream"))

	_, err := decodeAll(k2, wire)
	require.ErrorIs(t, err, errs.ErrAuthenticationFailure)
}

func TestTamperDetection(t *testing.T) {
	k := randomKey(t)
	plaintext := bytes.Repeat([]byte("x"), ChunkSize+500)
	wire := encodeAll(t, k, plaintext)

	for _, idx := range []int{4, len(wire) / 2, len(wire) - 20} {
		tampered := append([]byte(nil), wire...)
		tampered[idx] ^= 0xFF
		_, err := decodeAll(k, tampered)
		require.Error(t, err, "bit flip at %d should fail", idx)
	}
}

func TestTruncatedStreamFails(t *testing.T) {
	k := randomKey(t)
	wire := encodeAll(t, k, bytes.Repeat([]byte("y"), ChunkSize+10))

	truncated := wire[:len(wire)-10]
	_, err := decodeAll(k, truncated)
	require.Error(t, err)
}

func TestTrailingBytesAfterEndFails(t *testing.T) {
	k := randomKey(t)
	wire := encodeAll(t, k, []byte("short"))
	wire = append(wire, 0xAB)

	_, err := decodeAll(k, wire)
	require.ErrorIs(t, err, errs.ErrTrailingBytesAfterEnd)
}

func TestChunkTooLargeRejected(t *testing.T) {
	k := randomKey(t)

	var prefix [noncePrefixSize]byte
	wire := append([]byte{}, prefix[:]...)
	lenBuf := []byte{0, 1, 0, 1} // 65,537, over the cap
	wire = append(wire, lenBuf...)
	fake := make([]byte, 65537+tagSize)
	wire = append(wire, fake...)

	_, err := decodeAll(k, wire)
	require.ErrorIs(t, err, errs.ErrChunkTooLarge)
}
