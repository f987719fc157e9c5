package idcrypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	dsecp "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// VerifySignature verifies a 64-byte raw (r||s) signature over payload
// using the multibase-decoded signing key. It never panics on malformed
// input: an undecodable key, an unsupported codec, or a signature that is
// not 64 bytes returns (false, error), while a well-formed signature that
// does not verify against the key returns (false, nil).
func VerifySignature(multibaseKey string, payload, sig []byte) (bool, error) {
	codec, keyBytes, err := DecodeMultibaseKey(multibaseKey)
	if err != nil {
		return false, fmt.Errorf("decode signing key: %w", err)
	}
	if len(sig) != 64 {
		return false, fmt.Errorf("signature must be 64 raw bytes, got %d", len(sig))
	}

	hash := sha256.Sum256(payload)

	switch codec {
	case CodecSecp256k1Pub:
		return verifySecp256k1(keyBytes, hash[:], sig)
	case CodecP256Pub:
		return verifyP256(keyBytes, hash[:], sig)
	default:
		return false, fmt.Errorf("unsupported signing key multicodec 0x%x", codec)
	}
}

func verifySecp256k1(keyBytes, hash, sig []byte) (bool, error) {
	pub, err := secp256k1.ParsePubKey(keyBytes)
	if err != nil {
		return false, fmt.Errorf("parse secp256k1 public key: %w", err)
	}

	var r, s secp256k1.ModNScalar
	if r.SetByteSlice(sig[:32]) {
		return false, fmt.Errorf("signature r overflows curve order")
	}
	if s.SetByteSlice(sig[32:]) {
		return false, fmt.Errorf("signature s overflows curve order")
	}

	signature := dsecp.NewSignature(&r, &s)
	return signature.Verify(hash, pub), nil
}

func verifyP256(keyBytes, hash, sig []byte) (bool, error) {
	curve := elliptic.P256()
	x, y := elliptic.UnmarshalCompressed(curve, keyBytes)
	if x == nil {
		// fall back to an uncompressed point in case the publisher encoded one
		x, y = elliptic.Unmarshal(curve, keyBytes)
		if x == nil {
			return false, fmt.Errorf("parse P-256 public key")
		}
	}
	pub := &ecdsa.PublicKey{Curve: curve, X: x, Y: y}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])

	return ecdsa.Verify(pub, hash, r, s), nil
}
