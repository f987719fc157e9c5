package idcrypto

import (
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
)

func encodeMultibaseKey(t *testing.T, codec uint64, keyBytes []byte) string {
	t.Helper()
	prefix := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(prefix, codec)
	return "z" + base58.Encode(append(prefix[:n], keyBytes...))
}

func TestDecodeMultibaseKeyRoundTrip(t *testing.T) {
	raw := []byte{0x02, 0x03, 0x04, 0x05}
	encoded := encodeMultibaseKey(t, CodecSecp256k1Pub, raw)

	codec, keyBytes, err := DecodeMultibaseKey(encoded)
	require.NoError(t, err)
	require.Equal(t, CodecSecp256k1Pub, codec)
	require.Equal(t, raw, keyBytes)
}

func TestDecodeMultibaseKeyRejectsUnsupportedPrefix(t *testing.T) {
	_, _, err := DecodeMultibaseKey("mZQ3shabc")
	require.Error(t, err)
}

func TestKeysEqual(t *testing.T) {
	raw := []byte{0x09, 0x08, 0x07}
	a := encodeMultibaseKey(t, CodecP256Pub, raw)
	b := encodeMultibaseKey(t, CodecP256Pub, raw)
	c := encodeMultibaseKey(t, CodecP256Pub, []byte{0x01, 0x02, 0x03})

	require.True(t, KeysEqual(a, b))
	require.False(t, KeysEqual(a, c))
	require.False(t, KeysEqual(a, "not-a-valid-key"))
}
