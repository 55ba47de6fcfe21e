package tuf

import (
	"time"

	"github.com/go-kit/kit/log"
)

// phase names the stage of the load sequence TrustedMetadata has reached.
// Go has no cheap sum type, so the phase is tracked explicitly and every
// Update* method refuses to run out of order.
type phase int

const (
	phaseRootOnly phase = iota
	phaseRootAndTimestamp
	phaseRootTimestampSnapshot
	phaseComplete
)

// TrustedMetadata holds the progressively-verified chain of root,
// timestamp, snapshot, and delegated targets envelopes for one repository.
// Each Update* call both verifies its argument against what's already
// trusted and, on success, advances the phase: callers cannot skip ahead
// (load a snapshot before a timestamp) or reuse a stale root.
type TrustedMetadata struct {
	Root      *Envelope[RootSigned]
	Timestamp *Envelope[TimestampSigned]
	Snapshot  *Envelope[SnapshotSigned]
	Targets   map[string]*Envelope[TargetsSigned]

	refTime time.Time
	phase   phase
	logger  log.Logger
}

// NewTrustedMetadata constructs the state machine from an already-trusted
// initial root (the one shipped with the client, or the last persisted
// one), checked for internal consistency but not yet rotated forward.
func NewTrustedMetadata(root *Envelope[RootSigned], refTime time.Time, logger log.Logger) (*TrustedMetadata, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	tm := &TrustedMetadata{
		Targets: make(map[string]*Envelope[TargetsSigned]),
		refTime: refTime,
		phase:   phaseRootOnly,
		logger:  logger,
	}
	if err := tm.verifyRoot(root, root); err != nil {
		return nil, err
	}
	tm.Root = root
	return tm, nil
}

// UpdateRoot verifies and installs candidate as the new trusted root.
// candidate.Signed.Version must be exactly tm.Root.Signed.Version + 1:
// this method is meant to be called once per fetched intermediate root
// version during rotation, never given a multi-version jump to apply in
// one call.
func (tm *TrustedMetadata) UpdateRoot(candidate *Envelope[RootSigned]) error {
	if tm.phase != phaseRootOnly {
		return ConfigurationError{Msg: "UpdateRoot called after timestamp has been loaded"}
	}
	if candidate.Signed.Version != tm.Root.Signed.Version+1 {
		return BadVersionError{Msg: "root version must increase by exactly 1"}
	}
	if err := tm.verifyRoot(tm.Root, candidate); err != nil {
		return err
	}
	if err := tm.verifyRoot(candidate, candidate); err != nil {
		return err
	}
	tm.logger.Log("level", "debug", "msg", "root rotated", "version", candidate.Signed.Version)
	tm.Root = candidate
	return nil
}

// FinalizeRoot closes root rotation: expiry is only meaningful once no
// further intermediate root versions remain to be fetched.
func (tm *TrustedMetadata) FinalizeRoot() error {
	if tm.phase != phaseRootOnly {
		return ConfigurationError{Msg: "FinalizeRoot called out of order"}
	}
	if tm.Root.IsExpired(tm.refTime) {
		return ExpiredMetadataError{Role: "root"}
	}
	tm.phase = phaseRootAndTimestamp
	return nil
}

// verifyRoot checks candidate's signatures against signer's key set (the
// root used to authorize it — itself, for the self-signed initial load and
// for final re-verification against the new root's own keys) requiring
// every one of signer's authorized root keys to have produced a valid
// signature over candidate, not merely threshold-many.
func (tm *TrustedMetadata) verifyRoot(signer, candidate *Envelope[RootSigned]) error {
	rk, keys, ok := signer.Signed.RoleKeysFor("root")
	if !ok || !rk.Valid() {
		return SignatureVerificationError{Role: "root", Msg: "no valid root role keys"}
	}
	return verifyThreshold("root", keys, len(rk.KeyIDs), candidate)
}

// UpdateTimestamp verifies and installs a new timestamp envelope against
// the current root's timestamp role keys, enforcing version monotonicity
// (a regression is a rollback attack) and expiry.
func (tm *TrustedMetadata) UpdateTimestamp(candidate *Envelope[TimestampSigned]) error {
	if tm.phase != phaseRootAndTimestamp && tm.phase != phaseRootTimestampSnapshot {
		return ConfigurationError{Msg: "UpdateTimestamp called before root rotation finished"}
	}
	rk, keys, ok := tm.Root.Signed.RoleKeysFor("timestamp")
	if !ok || !rk.Valid() {
		return SignatureVerificationError{Role: "timestamp", Msg: "no valid timestamp role keys"}
	}
	if err := verifyThreshold("timestamp", keys, len(rk.KeyIDs), candidate); err != nil {
		return err
	}
	if tm.Timestamp != nil && candidate.Signed.Version < tm.Timestamp.Signed.Version {
		return RollbackAttackError{Msg: "timestamp version regressed"}
	}
	if tm.Timestamp != nil {
		oldSnap, hadOld := tm.Timestamp.Signed.SnapshotMeta()
		newSnap, hasNew := candidate.Signed.SnapshotMeta()
		if hadOld && hasNew && newSnap.Version < oldSnap.Version {
			return RollbackAttackError{Msg: "timestamp's snapshot.json version regressed"}
		}
	}
	if candidate.IsExpired(tm.refTime) {
		return ExpiredMetadataError{Role: "timestamp"}
	}
	tm.Timestamp = candidate
	tm.phase = phaseRootAndTimestamp
	tm.logger.Log("level", "debug", "msg", "timestamp updated", "version", candidate.Signed.Version)
	return nil
}

// UpdateSnapshot verifies and installs a new snapshot envelope, checking it
// against the timestamp's claimed meta for snapshot.json and, when a prior
// snapshot was trusted, that no previously-listed targets file entry has
// been dropped (a rollback attack disguised as deletion).
func (tm *TrustedMetadata) UpdateSnapshot(candidate *Envelope[SnapshotSigned], raw []byte) error {
	if tm.phase != phaseRootAndTimestamp && tm.phase != phaseRootTimestampSnapshot {
		return ConfigurationError{Msg: "UpdateSnapshot called before timestamp loaded"}
	}
	if tm.Timestamp == nil {
		return ConfigurationError{Msg: "no trusted timestamp"}
	}
	snapMeta, ok := tm.Timestamp.Signed.SnapshotMeta()
	if !ok {
		return IntegrityError{Msg: "timestamp carries no snapshot.json meta"}
	}
	if raw != nil {
		if err := snapMeta.Verify(raw); err != nil {
			return err
		}
	}

	rk, keys, ok := tm.Root.Signed.RoleKeysFor("snapshot")
	if !ok || !rk.Valid() {
		return SignatureVerificationError{Role: "snapshot", Msg: "no valid snapshot role keys"}
	}
	if err := verifyThreshold("snapshot", keys, len(rk.KeyIDs), candidate); err != nil {
		return err
	}

	if snapMeta.Version != 0 && candidate.Signed.Version != snapMeta.Version {
		return BadVersionError{Msg: "snapshot version does not match timestamp's claimed version"}
	}
	if tm.Snapshot != nil {
		for name, prevMeta := range tm.Snapshot.Signed.Meta {
			newMeta, ok := candidate.Signed.Meta[name]
			if !ok {
				return RollbackAttackError{Msg: "snapshot dropped previously listed file " + name}
			}
			if newMeta.Version < prevMeta.Version {
				return RollbackAttackError{Msg: "snapshot regressed version for " + name}
			}
		}
	}
	if candidate.IsExpired(tm.refTime) {
		return ExpiredMetadataError{Role: "snapshot"}
	}
	tm.Snapshot = candidate
	tm.phase = phaseRootTimestampSnapshot
	tm.logger.Log("level", "debug", "msg", "snapshot updated", "version", candidate.Signed.Version)
	return nil
}

// UpdateDelegatedTargets verifies and installs a targets or delegated
// targets envelope. role is "targets" for the top-level role and verified
// against root's keys; any other role is verified against parent's keys
// (the DelegatedRole that named it), which the caller resolves via the
// delegation resolver before fetching the bytes.
func (tm *TrustedMetadata) UpdateDelegatedTargets(role string, parent DelegatedRole, candidate *Envelope[TargetsSigned]) error {
	if tm.phase != phaseRootTimestampSnapshot && tm.phase != phaseComplete {
		return ConfigurationError{Msg: "UpdateDelegatedTargets called before snapshot loaded"}
	}
	if tm.Snapshot == nil {
		return ConfigurationError{Msg: "no trusted snapshot"}
	}

	fileName := role + ".json"
	meta, ok := tm.Snapshot.Signed.Meta[fileName]
	if !ok {
		return IntegrityError{Msg: "snapshot carries no meta for " + fileName}
	}

	var keys []Key
	var threshold int
	if role == "targets" {
		rk, rootKeys, ok := tm.Root.Signed.RoleKeysFor("targets")
		if !ok || !rk.Valid() {
			return SignatureVerificationError{Role: role, Msg: "no valid targets role keys"}
		}
		keys, threshold = rootKeys, len(rk.KeyIDs)
	} else {
		if parent.Threshold < 1 || parent.Threshold > len(parent.KeyIDs) {
			return SignatureVerificationError{Role: role, Msg: "invalid delegated role threshold"}
		}
		delegator, err := tm.delegatorFor(parent)
		if err != nil {
			return err
		}
		keys = delegator.RoleKeysFor(parent)
		threshold = len(parent.KeyIDs)
	}
	if err := verifyThreshold(role, keys, threshold, candidate); err != nil {
		return err
	}

	if meta.Version != 0 && candidate.Signed.Version != meta.Version {
		return BadVersionError{Msg: "delegated targets version does not match snapshot's claimed version for " + role}
	}
	if candidate.IsExpired(tm.refTime) {
		return ExpiredMetadataError{Role: role}
	}

	tm.Targets[role] = candidate
	if role == "targets" {
		tm.phase = phaseComplete
	}
	tm.logger.Log("level", "debug", "msg", "delegated targets updated", "role", role, "version", candidate.Signed.Version)
	return nil
}

// delegatorFor finds the Delegations block that declared parent, searching
// the top-level targets role and every already-trusted delegated role.
// This mirrors how the delegation resolver discovers parent in the first
// place: by the time UpdateDelegatedTargets is called for a child, its
// parent's envelope must already be trusted.
func (tm *TrustedMetadata) delegatorFor(parent DelegatedRole) (Delegations, error) {
	for _, env := range tm.Targets {
		if env.Signed.Delegations == nil {
			continue
		}
		for _, dr := range env.Signed.Delegations.Roles {
			if dr.Name == parent.Name {
				return *env.Signed.Delegations, nil
			}
		}
	}
	return Delegations{}, DelegationError{Msg: "no trusted delegator found for " + parent.Name}
}

// verifyThreshold requires every one of the resolved keys to produce a
// valid signature over candidate's signed bytes — not merely threshold-many
// distinct valid signatures among a larger key set. This is deliberately
// stricter than plain t-of-n counting.
func verifyThreshold[T any](role string, keys []Key, threshold int, candidate *Envelope[T]) error {
	if len(keys) == 0 {
		return SignatureVerificationError{Role: role, Msg: "no keys resolved"}
	}
	signedBytes, err := candidate.SignedBytes()
	if err != nil {
		return DeserializationError{Msg: err.Error()}
	}

	sigsByKeyID := make(map[KeyID]Signature, len(candidate.Signatures))
	for _, sig := range candidate.Signatures {
		sigsByKeyID[sig.KeyID] = sig
	}

	verified := 0
	for _, key := range keys {
		keyID, err := key.ID()
		if err != nil {
			continue
		}
		sig, ok := sigsByKeyID[keyID]
		if !ok {
			return SignatureVerificationError{Role: role, Msg: "missing signature from authorized key " + string(keyID)}
		}
		if !verifySignature(key, sig, signedBytes) {
			return SignatureVerificationError{Role: role, Msg: "invalid signature from authorized key " + string(keyID)}
		}
		verified++
	}
	if verified < threshold {
		return InsufficientSignaturesError{Role: role, Have: verified, Threshold: threshold}
	}
	return nil
}
