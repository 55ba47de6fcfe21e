package repobuilder

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolide/tuf/tuf"
)

func newEd25519Signer(t *testing.T) Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return Ed25519Signer{Private: priv}
}

func TestBuildRootProducesValidThresholdSignatures(t *testing.T) {
	b := NewBuilder(Options{})
	s1 := newEd25519Signer(t)

	env, err := b.BuildRoot(RootSpec{
		Version:            1,
		Expires:            time.Now().Add(24 * time.Hour),
		ConsistentSnapshot: true,
		Root:               RoleSigners{Signers: []Signer{s1}, Threshold: 1},
		Timestamp:          RoleSigners{Signers: []Signer{s1}, Threshold: 1},
		Snapshot:           RoleSigners{Signers: []Signer{s1}, Threshold: 1},
		Targets:            RoleSigners{Signers: []Signer{s1}, Threshold: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, tuf.RoleRoot, env.Signed.Type)
	assert.Len(t, env.Signatures, 1)
	assert.Len(t, env.Signed.Keys, 1)

	rk, keys, ok := env.Signed.RoleKeysFor("root")
	require.True(t, ok)
	assert.True(t, rk.Valid())
	require.Len(t, keys, 1)
}

func TestBuildRootRejectsInvalidThreshold(t *testing.T) {
	b := NewBuilder(Options{})
	s1 := newEd25519Signer(t)

	_, err := b.BuildRoot(RootSpec{
		Version: 1,
		Expires: time.Now().Add(24 * time.Hour),
		Root:    RoleSigners{Signers: []Signer{s1}, Threshold: 2},
	})
	assert.Error(t, err)
}

func TestBuildTargetsAndSnapshotMetaAgree(t *testing.T) {
	b := NewBuilder(Options{})
	s1 := newEd25519Signer(t)

	targetsEnv, err := b.BuildTargets(TargetsSpec{
		Version: 1,
		Expires: time.Now().Add(24 * time.Hour),
		Targets: map[string]tuf.TargetFile{"app/bin": {Length: 10, Hashes: map[string]string{"sha256": "abc"}}},
		Signers: RoleSigners{Signers: []Signer{s1}, Threshold: 1},
	})
	require.NoError(t, err)

	snapEnv, err := b.BuildSnapshot(SnapshotSpec{
		Version: 1,
		Expires: time.Now().Add(24 * time.Hour),
		Signers: RoleSigners{Signers: []Signer{s1}, Threshold: 1},
	}, map[string]*tuf.Envelope[tuf.TargetsSigned]{"targets": targetsEnv})
	require.NoError(t, err)

	meta, ok := snapEnv.Signed.Meta["targets.json"]
	require.True(t, ok)
	assert.NotZero(t, meta.Length)
	assert.Contains(t, meta.Hashes, "sha256")
}

func TestBuildTimestampPointsAtSnapshotVersion(t *testing.T) {
	b := NewBuilder(Options{})
	s1 := newEd25519Signer(t)

	snapEnv, err := b.BuildSnapshot(SnapshotSpec{
		Version: 4,
		Expires: time.Now().Add(24 * time.Hour),
		Signers: RoleSigners{Signers: []Signer{s1}, Threshold: 1},
	}, nil)
	require.NoError(t, err)

	tsEnv, err := b.BuildTimestamp(TimestampSpec{
		Version: 1,
		Expires: time.Now().Add(24 * time.Hour),
		Signers: RoleSigners{Signers: []Signer{s1}, Threshold: 1},
	}, snapEnv)
	require.NoError(t, err)

	meta, ok := tsEnv.Signed.Meta["snapshot.json"]
	require.True(t, ok)
	assert.Equal(t, 4, meta.Version)
}

func TestWriteRepositoryWritesMetadataAndTargets(t *testing.T) {
	b := NewBuilder(Options{})
	s1 := newEd25519Signer(t)
	dir := t.TempDir()

	rootEnv, err := b.BuildRoot(RootSpec{
		Version:   1,
		Expires:   time.Now().Add(24 * time.Hour),
		Root:      RoleSigners{Signers: []Signer{s1}, Threshold: 1},
		Timestamp: RoleSigners{Signers: []Signer{s1}, Threshold: 1},
		Snapshot:  RoleSigners{Signers: []Signer{s1}, Threshold: 1},
		Targets:   RoleSigners{Signers: []Signer{s1}, Threshold: 1},
	})
	require.NoError(t, err)

	err = b.WriteRepository(dir,
		map[string]interface{}{"root": rootEnv},
		map[string][]byte{"app/bin": []byte("binary")},
	)
	require.NoError(t, err)
}

type failingSigner struct{}

func (failingSigner) Sign([]byte) (tuf.Signature, error) {
	return tuf.Signature{}, assert.AnError
}

func (failingSigner) KeyMetadata() (tuf.Key, error) {
	return tuf.Key{}, assert.AnError
}

func TestSignAllAggregatesEveryFailure(t *testing.T) {
	_, err := signAll([]Signer{failingSigner{}, failingSigner{}}, []byte("payload"))
	assert.Error(t, err)
}
