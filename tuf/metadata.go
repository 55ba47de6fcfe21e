package tuf

import (
	"encoding/json"
	"sync"
	"time"
)

// Envelope wraps a signed payload of type T together with the raw
// signatures computed over its canonical-JSON form. SignedBytes is computed
// once and memoized: every caller needing the exact bytes a signature was
// produced over (verification, re-signing, key-id derivation of nothing to
// do with this type, but consistent with Key.ID's recompute discipline)
// gets the same slice without re-marshaling on every call.
type Envelope[T any] struct {
	Signed     T           `json:"signed"`
	Signatures []Signature `json:"signatures"`

	once        sync.Once
	signedBytes []byte
	signedErr   error
}

// SignedBytes returns the canonical-JSON encoding of Signed, the exact
// byte sequence signatures are verified and produced over.
func (e *Envelope[T]) SignedBytes() ([]byte, error) {
	e.once.Do(func() {
		e.signedBytes, e.signedErr = canonicalJSON(e.Signed)
	})
	return e.signedBytes, e.signedErr
}

// expirer is implemented by every Signed payload type so Envelope can check
// expiry without a type switch.
type expirer interface {
	expiresAt() time.Time
}

// IsExpired reports whether Signed's expires timestamp is at or before
// refTime. At-or-before, not strictly-before: expiry is inclusive of the
// instant named.
func (e *Envelope[T]) IsExpired(refTime time.Time) bool {
	v, ok := any(e.Signed).(expirer)
	if !ok {
		return false
	}
	exp := v.expiresAt()
	return !exp.After(refTime)
}

// UnmarshalJSON decodes an envelope using the canonical-round-trip decoder,
// so a signed payload that does not round-trip through T to the same
// canonical bytes (for example one carrying a member T has no field for) is
// rejected up front rather than silently accepted and re-signed wrong
// later.
func (e *Envelope[T]) UnmarshalJSON(data []byte) error {
	var raw struct {
		Signed     json.RawMessage `json:"signed"`
		Signatures []Signature     `json:"signatures"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return DeserializationError{Msg: err.Error()}
	}
	if err := decodeCanonical(raw.Signed, &e.Signed); err != nil {
		return err
	}
	if v, ok := any(e.Signed).(specVersioner); ok {
		if !supportedSpecVersions[v.specVersion()] {
			return DeserializationError{Msg: "unsupported spec_version: " + v.specVersion()}
		}
	}
	e.Signatures = raw.Signatures
	return nil
}

// specVersioner is implemented by every Signed payload type so Envelope
// can reject an unrecognized spec_version without a type switch.
type specVersioner interface {
	specVersion() string
}

// supportedSpecVersions is the allow-list of spec_version strings this
// package understands; anything else is rejected rather than silently
// accepted and parsed best-effort.
var supportedSpecVersions = map[string]bool{
	"1.0":   true,
	"1.0.0": true,
}

// RoleType names the four top-level TUF roles plus delegated targets,
// which share the targets wire shape.
type RoleType string

const (
	RoleRoot            RoleType = "root"
	RoleTimestamp       RoleType = "timestamp"
	RoleSnapshot        RoleType = "snapshot"
	RoleTargets         RoleType = "targets"
	RoleDelegatedTarget RoleType = "targets"
)

// RootSigned is the signed payload of root.json: the full key and role
// trust anchor for every other role.
type RootSigned struct {
	Type                RoleType            `json:"_type"`
	SpecVersion         string              `json:"spec_version"`
	ConsistentSnapshot  bool                `json:"consistent_snapshot"`
	Version             int                 `json:"version"`
	Expires             time.Time           `json:"expires"`
	Keys                map[KeyID]Key       `json:"keys"`
	Roles               map[string]RoleKeys `json:"roles"`
}

func (r RootSigned) expiresAt() time.Time { return r.Expires }
func (r RootSigned) specVersion() string  { return r.SpecVersion }

// RoleKeysFor returns the authorized keys and threshold for the named role,
// resolving each key id against Keys. Unknown key ids are skipped rather
// than raising: an absent key simply cannot contribute a valid signature.
func (r RootSigned) RoleKeysFor(role string) (RoleKeys, []Key, bool) {
	rk, ok := r.Roles[role]
	if !ok {
		return RoleKeys{}, nil, false
	}
	keys := make([]Key, 0, len(rk.KeyIDs))
	for _, id := range rk.KeyIDs {
		if k, ok := r.Keys[id]; ok {
			keys = append(keys, k)
		}
	}
	return rk, keys, true
}

// TimestampSigned is the signed payload of timestamp.json: a pointer to the
// current snapshot's version, length, and hashes.
type TimestampSigned struct {
	Type        RoleType            `json:"_type"`
	SpecVersion string              `json:"spec_version"`
	Version     int                 `json:"version"`
	Expires     time.Time           `json:"expires"`
	Meta        map[string]FileMeta `json:"meta"`
}

func (t TimestampSigned) expiresAt() time.Time { return t.Expires }
func (t TimestampSigned) specVersion() string  { return t.SpecVersion }

// SnapshotMeta returns the snapshot.json entry from Meta, if present.
func (t TimestampSigned) SnapshotMeta() (FileMeta, bool) {
	fm, ok := t.Meta["snapshot.json"]
	return fm, ok
}

// SnapshotSigned is the signed payload of snapshot.json: the expected
// version of every targets metadata file in the repository.
type SnapshotSigned struct {
	Type        RoleType            `json:"_type"`
	SpecVersion string              `json:"spec_version"`
	Version     int                 `json:"version"`
	Expires     time.Time           `json:"expires"`
	Meta        map[string]FileMeta `json:"meta"`
}

func (s SnapshotSigned) expiresAt() time.Time { return s.Expires }
func (s SnapshotSigned) specVersion() string  { return s.SpecVersion }

// FileMeta describes an expected metadata or target file: its length and,
// optionally, a set of hash algorithm to lower-hex digest pairs, and (for
// snapshot and timestamp meta entries) the expected version.
type FileMeta struct {
	Length  int64             `json:"length,omitempty"`
	Hashes  map[string]string `json:"hashes,omitempty"`
	Version int               `json:"version,omitempty"`
}

// TargetsSigned is the signed payload of targets.json and every delegated
// targets file: the target files it vouches for directly, plus any further
// delegations.
type TargetsSigned struct {
	Type        RoleType              `json:"_type"`
	SpecVersion string                `json:"spec_version"`
	Version     int                   `json:"version"`
	Expires     time.Time             `json:"expires"`
	Targets     map[string]TargetFile `json:"targets"`
	Delegations *Delegations          `json:"delegations,omitempty"`
}

func (t TargetsSigned) expiresAt() time.Time { return t.Expires }
func (t TargetsSigned) specVersion() string  { return t.SpecVersion }

// TargetFile is an entry in a targets role's Targets map: the length and
// hashes of one distributable artifact, plus opaque application metadata.
type TargetFile struct {
	Length int64             `json:"length"`
	Hashes map[string]string `json:"hashes"`
	Custom json.RawMessage   `json:"custom,omitempty"`
}

// Delegations is the delegations block of a targets role: the keys its
// delegated roles sign with, and the ordered list of delegated roles
// themselves. Pre-order DFS over Roles, in list order, is the only
// traversal this package performs.
type Delegations struct {
	Keys  map[KeyID]Key    `json:"keys"`
	Roles []DelegatedRole  `json:"roles"`
}

// DelegatedRole names one delegatee: its authorized keys and threshold, the
// path patterns or hash-prefix bins it claims authority over, and whether a
// match here terminates the search among its *siblings* in this same Roles
// list (not the whole outer search — an ancestor delegation can still be
// retried via a different branch).
type DelegatedRole struct {
	Name             string   `json:"name"`
	KeyIDs           []KeyID  `json:"keyids"`
	Threshold        int      `json:"threshold"`
	Terminating      bool     `json:"terminating"`
	Paths            []string `json:"paths,omitempty"`
	PathHashPrefixes []string `json:"path_hash_prefixes,omitempty"`
}

// RoleKeysFor resolves this delegation's keyids against Keys the same way
// RootSigned.RoleKeysFor does for top-level roles.
func (d Delegations) RoleKeysFor(dr DelegatedRole) []Key {
	keys := make([]Key, 0, len(dr.KeyIDs))
	for _, id := range dr.KeyIDs {
		if k, ok := d.Keys[id]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}
