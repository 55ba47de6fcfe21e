package tuf

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer := Ed25519Signer{Private: priv}
	key, err := signer.KeyMetadata()
	require.NoError(t, err)

	msg := []byte("canonical payload bytes")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)

	assert.True(t, verifySignature(key, sig, msg))
	assert.False(t, verifySignature(key, sig, []byte("tampered")))

	_ = pub
}

func TestVerifyRSAPSSRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer := RSASigner{Private: priv}
	key, err := signer.KeyMetadata()
	require.NoError(t, err)

	msg := []byte("canonical payload bytes")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)

	assert.True(t, verifySignature(key, sig, msg))
	assert.False(t, verifySignature(key, sig, []byte("tampered")))
}

func TestVerifyRSAPSSRejectsWeakKey(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	signer := RSASigner{Private: priv}
	key, err := signer.KeyMetadata()
	require.NoError(t, err)

	msg := []byte("canonical payload bytes")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)

	assert.False(t, verifySignature(key, sig, msg))
}

func TestVerifyECDSARoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	signer := ECDSASigner{Private: priv}
	key, err := signer.KeyMetadata()
	require.NoError(t, err)

	msg := []byte("canonical payload bytes")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)

	assert.True(t, verifySignature(key, sig, msg))
	assert.False(t, verifySignature(key, sig, []byte("tampered")))
}

func TestVerifyRejectsMismatchedSchemeNeverPanics(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	signer := ECDSASigner{Private: priv}
	key, err := signer.KeyMetadata()
	require.NoError(t, err)

	msg := []byte("canonical payload bytes")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)

	// Claim the signature is ed25519 over a key whose value is ECDSA PEM;
	// verifySignature must collapse this to false, never panic.
	key.Type = KeyTypeEd25519
	key.Scheme = SchemeEd25519
	assert.NotPanics(t, func() {
		assert.False(t, verifySignature(key, sig, msg))
	})
}

func TestVerifyRejectsGarbageSignatureHex(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer := Ed25519Signer{Private: priv}
	key, err := signer.KeyMetadata()
	require.NoError(t, err)

	bad := Signature{KeyID: "deadbeef", Sig: "not-hex!!"}
	assert.False(t, verifySignature(key, bad, []byte("msg")))
}

func TestKeyIDContentAddressed(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer := Ed25519Signer{Private: priv}
	key, err := signer.KeyMetadata()
	require.NoError(t, err)

	id1, err := key.ID()
	require.NoError(t, err)
	id2, err := key.ID()
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	key.Value.Public = key.Value.Public + "00"
	id3, err := key.ID()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestRoleKeysValid(t *testing.T) {
	assert.True(t, RoleKeys{KeyIDs: []KeyID{"a", "b"}, Threshold: 1}.Valid())
	assert.True(t, RoleKeys{KeyIDs: []KeyID{"a", "b"}, Threshold: 2}.Valid())
	assert.False(t, RoleKeys{KeyIDs: []KeyID{"a", "b"}, Threshold: 0}.Valid())
	assert.False(t, RoleKeys{KeyIDs: []KeyID{"a", "b"}, Threshold: 3}.Valid())
}
