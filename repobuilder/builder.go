package repobuilder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/kolide/tuf/tuf"
)

// RoleSigners names the signers authorized for one top-level role and the
// threshold of their signatures required, the input a Builder needs to
// assemble that role's key and role-keys entries in root.json.
type RoleSigners struct {
	Signers   []Signer
	Threshold int
}

// RootSpec describes the root.json a Builder should produce.
type RootSpec struct {
	Version            int
	Expires            time.Time
	ConsistentSnapshot bool
	Root               RoleSigners
	Timestamp          RoleSigners
	Snapshot           RoleSigners
	Targets            RoleSigners
}

// Options configures a Builder's ambient behavior.
type Options struct {
	Logger log.Logger
}

// Builder assembles signed root/timestamp/snapshot/targets envelopes and
// writes them, along with target artifacts, to a repository directory
// tree, producing signed bytes from role definitions and keys rather than
// taking already-signed bytes as input.
type Builder struct {
	logger log.Logger
}

// NewBuilder constructs a Builder.
func NewBuilder(opts Options) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Builder{logger: logger}
}

// BuildRoot assembles and signs root.json from spec.
func (b *Builder) BuildRoot(spec RootSpec) (*tuf.Envelope[tuf.RootSigned], error) {
	keys := map[tuf.KeyID]tuf.Key{}
	roles := map[string]tuf.RoleKeys{}

	add := func(roleName string, rs RoleSigners) error {
		ids := make([]tuf.KeyID, 0, len(rs.Signers))
		for _, s := range rs.Signers {
			km, err := s.KeyMetadata()
			if err != nil {
				return errors.Wrapf(err, "key metadata for role %s", roleName)
			}
			id, err := km.ID()
			if err != nil {
				return errors.Wrapf(err, "key id for role %s", roleName)
			}
			keys[id] = km
			ids = append(ids, id)
		}
		rk := tuf.RoleKeys{KeyIDs: ids, Threshold: rs.Threshold}
		if !rk.Valid() {
			return errors.Errorf("role %s: threshold %d invalid for %d keys", roleName, rs.Threshold, len(ids))
		}
		roles[roleName] = rk
		return nil
	}

	for name, rs := range map[string]RoleSigners{
		"root":      spec.Root,
		"timestamp": spec.Timestamp,
		"snapshot":  spec.Snapshot,
		"targets":   spec.Targets,
	} {
		if err := add(name, rs); err != nil {
			return nil, err
		}
	}

	signed := tuf.RootSigned{
		Type:               tuf.RoleRoot,
		SpecVersion:        "1.0.0",
		ConsistentSnapshot: spec.ConsistentSnapshot,
		Version:            spec.Version,
		Expires:            spec.Expires,
		Keys:               keys,
		Roles:              roles,
	}

	_, sigs, err := b.sign(signed, spec.Root.Signers)
	if err != nil {
		return nil, err
	}
	b.logger.Log("msg", "built root", "version", spec.Version)
	return &tuf.Envelope[tuf.RootSigned]{Signed: signed, Signatures: sigs}, nil
}

// TargetsSpec describes one targets.json or delegated targets file.
type TargetsSpec struct {
	Version     int
	Expires     time.Time
	Targets     map[string]tuf.TargetFile
	Delegations *tuf.Delegations
	Signers     RoleSigners
}

// BuildTargets assembles and signs a targets-shaped envelope.
func (b *Builder) BuildTargets(spec TargetsSpec) (*tuf.Envelope[tuf.TargetsSigned], error) {
	signed := tuf.TargetsSigned{
		Type:        tuf.RoleTargets,
		SpecVersion: "1.0.0",
		Version:     spec.Version,
		Expires:     spec.Expires,
		Targets:     spec.Targets,
		Delegations: spec.Delegations,
	}
	_, sigs, err := b.sign(signed, spec.Signers.Signers)
	if err != nil {
		return nil, err
	}
	b.logger.Log("msg", "built targets", "version", spec.Version)
	return &tuf.Envelope[tuf.TargetsSigned]{Signed: signed, Signatures: sigs}, nil
}

// SnapshotSpec describes the snapshot.json a Builder should produce, given
// the already-built targets envelopes it must cover.
type SnapshotSpec struct {
	Version int
	Expires time.Time
	Signers RoleSigners
}

// BuildSnapshot assembles and signs snapshot.json, deriving each listed
// targets file's meta entry from its own envelope bytes and version.
func (b *Builder) BuildSnapshot(spec SnapshotSpec, targetsFiles map[string]*tuf.Envelope[tuf.TargetsSigned]) (*tuf.Envelope[tuf.SnapshotSigned], error) {
	meta := map[string]tuf.FileMeta{}
	for name, env := range targetsFiles {
		fm, err := fileMetaFor(env)
		if err != nil {
			return nil, errors.Wrapf(err, "computing meta for %s", name)
		}
		fm.Version = env.Signed.Version
		meta[name+".json"] = fm
	}

	signed := tuf.SnapshotSigned{
		Type:        tuf.RoleSnapshot,
		SpecVersion: "1.0.0",
		Version:     spec.Version,
		Expires:     spec.Expires,
		Meta:        meta,
	}
	_, sigs, err := b.sign(signed, spec.Signers.Signers)
	if err != nil {
		return nil, err
	}
	b.logger.Log("msg", "built snapshot", "version", spec.Version)
	return &tuf.Envelope[tuf.SnapshotSigned]{Signed: signed, Signatures: sigs}, nil
}

// TimestampSpec describes the timestamp.json a Builder should produce.
type TimestampSpec struct {
	Version int
	Expires time.Time
	Signers RoleSigners
}

// BuildTimestamp assembles and signs timestamp.json, pointing at the
// already-built snapshot envelope.
func (b *Builder) BuildTimestamp(spec TimestampSpec, snapshot *tuf.Envelope[tuf.SnapshotSigned]) (*tuf.Envelope[tuf.TimestampSigned], error) {
	fm, err := fileMetaFor(snapshot)
	if err != nil {
		return nil, errors.Wrap(err, "computing meta for snapshot.json")
	}
	fm.Version = snapshot.Signed.Version

	signed := tuf.TimestampSigned{
		Type:        tuf.RoleTimestamp,
		SpecVersion: "1.0.0",
		Version:     spec.Version,
		Expires:     spec.Expires,
		Meta:        map[string]tuf.FileMeta{"snapshot.json": fm},
	}
	_, sigs, err := b.sign(signed, spec.Signers.Signers)
	if err != nil {
		return nil, err
	}
	b.logger.Log("msg", "built timestamp", "version", spec.Version)
	return &tuf.Envelope[tuf.TimestampSigned]{Signed: signed, Signatures: sigs}, nil
}

// sign canonicalizes signed and has every signer sign the result. It takes
// the payload as interface{} so every Builder.Build* method can call it
// with its own signed-payload type.
func (b *Builder) sign(signed interface{}, signers []Signer) (json.RawMessage, []tuf.Signature, error) {
	buf, err := tuf.CanonicalJSON(signed)
	if err != nil {
		return nil, nil, errors.Wrap(err, "canonicalizing payload")
	}
	sigs, err := signAll(signers, buf)
	if err != nil {
		return nil, nil, err
	}
	return buf, sigs, nil
}

// fileMetaFor describes env as WriteRepository writes it to disk: the
// length and SHA-256 of its JSON-encoded envelope, the same bytes a client
// fetches and checks against this meta.
func fileMetaFor(env interface{}) (tuf.FileMeta, error) {
	buf, err := json.Marshal(env)
	if err != nil {
		return tuf.FileMeta{}, err
	}
	return tuf.FileMeta{
		Length: int64(len(buf)),
		Hashes: map[string]string{"sha256": sha256Hex(buf)},
	}, nil
}

// WriteRepository writes every built role envelope to dir/metadata and
// every target artifact to dir/targets, using the temp-file-then-rename
// discipline the same way tuf.LocalCache.Write does.
func (b *Builder) WriteRepository(dir string, roles map[string]interface{}, targetFiles map[string][]byte) error {
	metaDir := filepath.Join(dir, "metadata")
	targetsDir := filepath.Join(dir, "targets")
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return errors.Wrap(err, "creating metadata directory")
	}
	if err := os.MkdirAll(targetsDir, 0o755); err != nil {
		return errors.Wrap(err, "creating targets directory")
	}

	for name, role := range roles {
		buf, err := json.Marshal(role)
		if err != nil {
			return errors.Wrapf(err, "marshaling role %s", name)
		}
		if err := writeFileAtomic(filepath.Join(metaDir, name+".json"), buf); err != nil {
			return err
		}
	}
	for relPath, data := range targetFiles {
		dest := filepath.Join(targetsDir, relPath)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return errors.Wrapf(err, "creating directory for target %s", relPath)
		}
		if err := writeFileAtomic(dest, data); err != nil {
			return err
		}
	}
	return nil
}

func writeFileAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "tuf_tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return errors.Wrap(err, "renaming temp file into place")
	}
	return nil
}

// signAll produces one signature per signer over buf, aggregating every
// failing signer into a single multierror instead of stopping at the
// first, so a caller fixing a bad key sees every problem in one pass.
func signAll(signers []Signer, buf []byte) ([]tuf.Signature, error) {
	var result *multierror.Error
	sigs := make([]tuf.Signature, 0, len(signers))
	for _, s := range signers {
		sig, err := s.Sign(buf)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		sigs = append(sigs, sig)
	}
	if result != nil {
		return nil, result
	}
	return sigs, nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
