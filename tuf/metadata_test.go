package tuf

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedRootEnvelope(t *testing.T, expires time.Time) ([]byte, Ed25519Signer, Key) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer := Ed25519Signer{Private: priv}
	key, err := signer.KeyMetadata()
	require.NoError(t, err)
	id, err := key.ID()
	require.NoError(t, err)

	signed := RootSigned{
		Type:               RoleRoot,
		SpecVersion:        "1.0.0",
		ConsistentSnapshot: true,
		Version:            1,
		Expires:            expires,
		Keys:               map[KeyID]Key{id: key},
		Roles: map[string]RoleKeys{
			"root":      {KeyIDs: []KeyID{id}, Threshold: 1},
			"timestamp": {KeyIDs: []KeyID{id}, Threshold: 1},
			"snapshot":  {KeyIDs: []KeyID{id}, Threshold: 1},
			"targets":   {KeyIDs: []KeyID{id}, Threshold: 1},
		},
	}
	buf, err := canonicalJSON(signed)
	require.NoError(t, err)
	sig, err := signer.Sign(buf)
	require.NoError(t, err)

	env := struct {
		Signed     RootSigned  `json:"signed"`
		Signatures []Signature `json:"signatures"`
	}{Signed: signed, Signatures: []Signature{sig}}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw, signer, key
}

func TestEnvelopeUnmarshalJSONRoundTrips(t *testing.T) {
	raw, _, _ := signedRootEnvelope(t, time.Now().Add(24*time.Hour))

	var e Envelope[RootSigned]
	require.NoError(t, json.Unmarshal(raw, &e))
	assert.Equal(t, 1, e.Signed.Version)
	assert.Len(t, e.Signatures, 1)
}

func TestEnvelopeUnmarshalJSONRejectsUnsupportedSpecVersion(t *testing.T) {
	raw, _, _ := signedRootEnvelope(t, time.Now().Add(24*time.Hour))
	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &generic))
	signed := generic["signed"].(map[string]interface{})
	signed["spec_version"] = "9.9.9"
	bumped, err := json.Marshal(generic)
	require.NoError(t, err)

	var e Envelope[RootSigned]
	err = json.Unmarshal(bumped, &e)
	assert.Error(t, err)
	assert.IsType(t, DeserializationError{}, err)
}

func TestEnvelopeSignedBytesMemoized(t *testing.T) {
	raw, _, _ := signedRootEnvelope(t, time.Now().Add(24*time.Hour))
	var e Envelope[RootSigned]
	require.NoError(t, json.Unmarshal(raw, &e))

	b1, err := e.SignedBytes()
	require.NoError(t, err)
	b2, err := e.SignedBytes()
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestEnvelopeIsExpired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	raw, _, _ := signedRootEnvelope(t, past)
	var e Envelope[RootSigned]
	require.NoError(t, json.Unmarshal(raw, &e))

	assert.True(t, e.IsExpired(time.Now()))
	assert.False(t, e.IsExpired(past.Add(-time.Minute)))
}

func TestEnvelopeIsExpiredInclusiveOfExactInstant(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	raw, _, _ := signedRootEnvelope(t, expiry)
	var e Envelope[RootSigned]
	require.NoError(t, json.Unmarshal(raw, &e))

	assert.True(t, e.IsExpired(expiry))
}

func TestRootSignedRoleKeysForUnknownRole(t *testing.T) {
	r := RootSigned{Roles: map[string]RoleKeys{}}
	_, _, ok := r.RoleKeysFor("root")
	assert.False(t, ok)
}

func TestRootSignedRoleKeysForSkipsUnresolvedKeyID(t *testing.T) {
	r := RootSigned{
		Keys: map[KeyID]Key{"known": {Type: KeyTypeEd25519}},
		Roles: map[string]RoleKeys{
			"root": {KeyIDs: []KeyID{"known", "missing"}, Threshold: 1},
		},
	}
	rk, keys, ok := r.RoleKeysFor("root")
	require.True(t, ok)
	assert.Equal(t, 2, len(rk.KeyIDs))
	assert.Len(t, keys, 1)
}

func TestTimestampSignedSnapshotMeta(t *testing.T) {
	ts := TimestampSigned{Meta: map[string]FileMeta{"snapshot.json": {Version: 3}}}
	fm, ok := ts.SnapshotMeta()
	require.True(t, ok)
	assert.Equal(t, 3, fm.Version)

	empty := TimestampSigned{}
	_, ok = empty.SnapshotMeta()
	assert.False(t, ok)
}

func TestDelegationsRoleKeysFor(t *testing.T) {
	d := Delegations{Keys: map[KeyID]Key{"k1": {Type: KeyTypeEd25519}}}
	dr := DelegatedRole{KeyIDs: []KeyID{"k1", "unknown"}}
	keys := d.RoleKeysFor(dr)
	assert.Len(t, keys, 1)
}
