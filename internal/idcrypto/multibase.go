// Package idcrypto decodes multibase-encoded publisher signing keys and
// verifies label signatures against them (spec.md §4.D.i).
package idcrypto

import (
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// Multicodec prefixes for the two signing key types a labeler may declare.
const (
	CodecSecp256k1Pub uint64 = 0xe7
	CodecP256Pub      uint64 = 0x1200
)

// DecodeMultibaseKey decodes a self-describing multibase key string
// (e.g. "zQ3sh...") into its multicodec prefix and raw key bytes.
// Only the base58btc ("z") multibase prefix is supported; it is the only
// one labelers use for `#atproto_label` verification methods.
func DecodeMultibaseKey(s string) (codec uint64, keyBytes []byte, err error) {
	if len(s) == 0 || s[0] != 'z' {
		return 0, nil, fmt.Errorf("unsupported multibase prefix in %q", s)
	}

	decoded, err := base58.Decode(s[1:])
	if err != nil {
		return 0, nil, fmt.Errorf("base58btc decode: %w", err)
	}

	codec, n := binary.Uvarint(decoded)
	if n <= 0 {
		return 0, nil, fmt.Errorf("invalid multicodec varint prefix")
	}

	return codec, decoded[n:], nil
}

// KeysEqual reports whether two multibase key strings decode to the same
// codec and key bytes — used to detect an actual rotation on key refresh
// (spec.md §4.D.i: "the refreshed key differs byte-for-byte").
func KeysEqual(a, b string) bool {
	if a == b {
		return true
	}
	ca, ka, errA := DecodeMultibaseKey(a)
	cb, kb, errB := DecodeMultibaseKey(b)
	if errA != nil || errB != nil {
		return false
	}
	if ca != cb || len(ka) != len(kb) {
		return false
	}
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
	}
	return true
}
