package idcrypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"math/big"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	dsecp "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/require"
)

// derSignature mirrors the ASN.1 SEQUENCE{r, s} shape of a DER-encoded
// ECDSA signature, used here to recover raw r/s integers from
// dsecp.Sign's Serialize() output without depending on any unexported
// accessor.
type derSignature struct {
	R *big.Int
	S *big.Int
}

func rawSignature(t *testing.T, r, s *big.Int) []byte {
	t.Helper()
	raw := make([]byte, 64)
	rBytes := r.Bytes()
	sBytes := s.Bytes()
	copy(raw[32-len(rBytes):32], rBytes)
	copy(raw[64-len(sBytes):64], sBytes)
	return raw
}

func TestVerifySignatureSecp256k1(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	pubBytes := priv.PubKey().SerializeCompressed()
	key := encodeMultibaseKey(t, CodecSecp256k1Pub, pubBytes)

	payload := []byte("the quick brown fox")
	hash := sha256.Sum256(payload)
	sig := dsecp.Sign(priv, hash[:])

	var der derSignature
	_, err = asn1.Unmarshal(sig.Serialize(), &der)
	require.NoError(t, err)

	ok, err := VerifySignature(key, payload, rawSignature(t, der.R, der.S))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifySignatureSecp256k1WrongPayload(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	key := encodeMultibaseKey(t, CodecSecp256k1Pub, priv.PubKey().SerializeCompressed())

	hash := sha256.Sum256([]byte("original"))
	sig := dsecp.Sign(priv, hash[:])

	var der derSignature
	_, err = asn1.Unmarshal(sig.Serialize(), &der)
	require.NoError(t, err)

	ok, err := VerifySignature(key, []byte("tampered"), rawSignature(t, der.R, der.S))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifySignatureP256(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	pubBytes := elliptic.MarshalCompressed(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)
	key := encodeMultibaseKey(t, CodecP256Pub, pubBytes)

	payload := []byte("label payload bytes")
	hash := sha256.Sum256(payload)

	r, s, err := ecdsa.Sign(rand.Reader, priv, hash[:])
	require.NoError(t, err)

	ok, err := VerifySignature(key, payload, rawSignature(t, r, s))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifySignatureRejectsWrongSignatureLength(t *testing.T) {
	key := encodeMultibaseKey(t, CodecSecp256k1Pub, []byte{1, 2, 3})
	_, err := VerifySignature(key, []byte("payload"), []byte{1, 2, 3})
	require.Error(t, err)
}

func TestVerifySignatureRejectsUnsupportedCodec(t *testing.T) {
	key := encodeMultibaseKey(t, 0xDEAD, []byte{1, 2, 3, 4})
	_, err := VerifySignature(key, []byte("payload"), make([]byte, 64))
	require.Error(t, err)
}
