package tuf

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
)

// KeyID identifies a Key by the lower-hex SHA-256 digest of its
// canonical-JSON encoding. KeyIDs are content-addressed: they are always
// recomputed on load and never trusted from the wire.
type KeyID string

// KeyType and Scheme name a supported (type, scheme) pair. Spec-supported
// combinations are (ed25519, ed25519), (rsa, rsassa-pss-sha256), and
// (ecdsa, ecdsa-sha2-nistp256); any other pair fails verification rather
// than raising.
type KeyType string
type Scheme string

const (
	KeyTypeEd25519 KeyType = "ed25519"
	KeyTypeRSA     KeyType = "rsa"
	KeyTypeECDSA   KeyType = "ecdsa"

	SchemeEd25519        Scheme = "ed25519"
	SchemeRSASSAPSSSHA256 Scheme = "rsassa-pss-sha256"
	SchemeECDSASHA2NISTP256 Scheme = "ecdsa-sha2-nistp256"
)

// Key is a typed public-key envelope. Value holds the key material: raw hex
// for ed25519, PEM text for rsa and ecdsa.
type Key struct {
	Type   KeyType `json:"keytype"`
	Scheme Scheme  `json:"scheme"`
	Value  KeyVal  `json:"keyval"`
}

// KeyVal carries the opaque public-key encoding. Public is hex for
// ed25519, PEM for rsa/ecdsa.
type KeyVal struct {
	Public string `json:"public"`
}

// ID derives this key's content-addressed KeyID: the lower-hex SHA-256 of
// its canonical-JSON encoding. Keys have no key-id field of their own, so
// no field needs to be excluded before hashing.
func (k Key) ID() (KeyID, error) {
	buf, err := canonicalJSON(k)
	if err != nil {
		return "", errors.Wrap(err, "computing key id")
	}
	sum := sha256.Sum256(buf)
	return KeyID(hex.EncodeToString(sum[:])), nil
}

// Signature pairs a KeyID with the raw lower-hex signature bytes produced
// over an envelope's signed bytes.
type Signature struct {
	KeyID KeyID  `json:"keyid"`
	Sig   string `json:"sig"`
}

func (s Signature) decodeSig() ([]byte, error) {
	b, err := hex.DecodeString(s.Sig)
	if err != nil {
		return nil, errors.Wrap(err, "decoding signature hex")
	}
	return b, nil
}

// RoleKeys is the authorized key set and threshold for one role.
// Invariant: 1 <= Threshold <= len(KeyIDs).
type RoleKeys struct {
	KeyIDs    []KeyID `json:"keyids"`
	Threshold int     `json:"threshold"`
}

// Valid reports whether the threshold invariant holds.
func (r RoleKeys) Valid() bool {
	return r.Threshold >= 1 && r.Threshold <= len(r.KeyIDs)
}

func (r RoleKeys) keyIDSet() map[KeyID]struct{} {
	m := make(map[KeyID]struct{}, len(r.KeyIDs))
	for _, id := range r.KeyIDs {
		m[id] = struct{}{}
	}
	return m
}
