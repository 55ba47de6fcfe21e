package tuf

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

const (
	defaultMaxRootLength      = 512 * 1024
	defaultMaxTimestampLength = 16 * 1024
	defaultMaxSnapshotLength  = 2 * 1024 * 1024
	defaultMaxTargetsLength   = 5 * 1024 * 1024
	defaultMaxDelegations     = 32
	defaultMaxRootRotations   = 256
)

// UpdaterConfig configures one repository's Updater. RootBytes is the
// trusted initial root, shipped with the application or persisted from a
// prior run; everything else defends against a misconfigured or
// compromised repository serving unbounded responses.
type UpdaterConfig struct {
	RootBytes          []byte
	Fetcher            Fetcher
	Cache              *LocalCache
	ConsistentSnapshot bool

	// DisableLocalCache skips every local cache read and write: Refresh
	// re-fetches all metadata from the repository each call, and
	// DownloadTarget never persists or reads back target bytes. Cache
	// may be left nil when this is set.
	DisableLocalCache bool

	MaxRootLength      int64
	MaxTimestampLength int64
	MaxSnapshotLength  int64
	MaxTargetsLength   int64
	MaxDelegationDepth int
	MaxRootRotations   int

	Clock  func() time.Time
	Logger log.Logger
}

func (c *UpdaterConfig) setDefaults() {
	if c.MaxRootLength == 0 {
		c.MaxRootLength = defaultMaxRootLength
	}
	if c.MaxTimestampLength == 0 {
		c.MaxTimestampLength = defaultMaxTimestampLength
	}
	if c.MaxSnapshotLength == 0 {
		c.MaxSnapshotLength = defaultMaxSnapshotLength
	}
	if c.MaxTargetsLength == 0 {
		c.MaxTargetsLength = defaultMaxTargetsLength
	}
	if c.MaxDelegationDepth == 0 {
		c.MaxDelegationDepth = defaultMaxDelegations
	}
	if c.MaxRootRotations == 0 {
		c.MaxRootRotations = defaultMaxRootRotations
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.NewNopLogger()
	}
}

var errNoLocalCache = ConfigurationError{Msg: "local cache is disabled"}

// Updater orchestrates one repository's full update cycle: root rotation,
// timestamp, snapshot, top-level targets, and on-demand delegated targets
// resolution, with all trust state living in a single *TrustedMetadata.
type Updater struct {
	cfg     UpdaterConfig
	trusted *TrustedMetadata
}

// NewUpdater parses cfg.RootBytes as the initial trusted root and returns
// an Updater ready for Refresh.
func NewUpdater(cfg UpdaterConfig) (*Updater, error) {
	cfg.setDefaults()

	if cfg.Cache == nil && !cfg.DisableLocalCache {
		return nil, ConfigurationError{Msg: "UpdaterConfig.Cache is nil and DisableLocalCache is false"}
	}

	var rootEnv Envelope[RootSigned]
	if err := json.Unmarshal(cfg.RootBytes, &rootEnv); err != nil {
		return nil, DeserializationError{Msg: err.Error()}
	}

	tm, err := NewTrustedMetadata(&rootEnv, cfg.Clock(), cfg.Logger)
	if err != nil {
		return nil, err
	}

	return &Updater{cfg: cfg, trusted: tm}, nil
}

// Refresh runs the full update sequence: rotate root forward one version
// at a time until the repository stops serving a next version, load
// timestamp and snapshot, then load the top-level targets role. Each root
// version is applied via UpdateRoot as soon as it's fetched, never batched,
// since UpdateRoot enforces an exact +1 version increment per call.
func (u *Updater) Refresh(ctx context.Context) error {
	if err := u.rotateRoot(ctx); err != nil {
		return err
	}
	if err := u.trusted.FinalizeRoot(); err != nil {
		return err
	}
	if err := u.loadTimestamp(ctx); err != nil {
		return err
	}
	if err := u.loadSnapshot(ctx); err != nil {
		return err
	}
	if err := u.loadTopLevelTargets(ctx); err != nil {
		return err
	}
	return nil
}

func (u *Updater) rotateRoot(ctx context.Context) error {
	rotations := 0
	for {
		if rotations >= u.cfg.MaxRootRotations {
			return BadVersionError{Msg: "exceeded maximum root rotations in a single refresh"}
		}
		nextVersion := u.trusted.Root.Signed.Version + 1
		fileName := consistentSnapshotFileName("root.json", nextVersion)

		raw, err := u.cfg.Fetcher.FetchMetadata(ctx, fileName, u.cfg.MaxRootLength)
		if err != nil {
			var netErr RepositoryNetworkError
			if errors.As(err, &netErr) && netErr.StatusCode == 404 {
				return nil
			}
			return err
		}

		var candidate Envelope[RootSigned]
		if err := json.Unmarshal(raw, &candidate); err != nil {
			return DeserializationError{Msg: err.Error()}
		}
		if err := u.trusted.UpdateRoot(&candidate); err != nil {
			return err
		}
		if err := u.writeCache("root.json", raw); err != nil {
			return err
		}
		rotations++
	}
}

func (u *Updater) loadTimestamp(ctx context.Context) error {
	raw, err := u.cfg.Fetcher.FetchMetadata(ctx, "timestamp.json", u.cfg.MaxTimestampLength)
	if err != nil {
		return err
	}
	var candidate Envelope[TimestampSigned]
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return DeserializationError{Msg: err.Error()}
	}
	if err := u.trusted.UpdateTimestamp(&candidate); err != nil {
		return err
	}
	return u.writeCache("timestamp.json", raw)
}

func (u *Updater) loadSnapshot(ctx context.Context) error {
	fileName := "snapshot.json"
	maxLength := u.cfg.MaxSnapshotLength
	if meta, ok := u.trusted.Timestamp.Signed.SnapshotMeta(); ok && meta.Length > 0 && meta.Length < maxLength {
		maxLength = meta.Length
	}
	if u.cfg.ConsistentSnapshot {
		if meta, ok := u.trusted.Timestamp.Signed.SnapshotMeta(); ok {
			fileName = consistentSnapshotFileName("snapshot.json", meta.Version)
		}
	}

	raw, err := u.cfg.Fetcher.FetchMetadata(ctx, fileName, maxLength)
	if err != nil {
		return err
	}
	var candidate Envelope[SnapshotSigned]
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return DeserializationError{Msg: err.Error()}
	}
	if err := u.trusted.UpdateSnapshot(&candidate, raw); err != nil {
		return err
	}
	return u.writeCache("snapshot.json", raw)
}

func (u *Updater) loadTopLevelTargets(ctx context.Context) error {
	_, err := u.fetchAndTrustTargets(ctx, "targets", DelegatedRole{})
	return err
}

func (u *Updater) fetchAndTrustTargets(ctx context.Context, role string, parent DelegatedRole) (*Envelope[TargetsSigned], error) {
	if env, ok := u.trusted.Targets[role]; ok {
		return env, nil
	}

	fileName := role + ".json"
	meta, ok := u.trusted.Snapshot.Signed.Meta[fileName]
	if !ok {
		return nil, IntegrityError{Msg: "snapshot carries no meta for " + fileName}
	}
	wireName := fileName
	if u.cfg.ConsistentSnapshot {
		wireName = consistentSnapshotFileName(fileName, meta.Version)
	}

	maxLength := u.cfg.MaxTargetsLength
	if meta.Length > 0 && meta.Length < maxLength {
		maxLength = meta.Length
	}

	raw, err := u.cfg.Fetcher.FetchMetadata(ctx, wireName, maxLength)
	if err != nil {
		return nil, err
	}
	var candidate Envelope[TargetsSigned]
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return nil, DeserializationError{Msg: err.Error()}
	}
	if err := u.trusted.UpdateDelegatedTargets(role, parent, &candidate); err != nil {
		return nil, err
	}
	if err := u.writeCache(fileName, raw); err != nil {
		return nil, err
	}
	return &candidate, nil
}

// GetTargetInfo resolves targetPath against the trusted top-level targets
// role and its delegations, fetching delegated targets files on demand.
func (u *Updater) GetTargetInfo(ctx context.Context, targetPath string) (*TargetFile, error) {
	fetch := func(role string, parent DelegatedRole) (*Envelope[TargetsSigned], error) {
		return u.fetchAndTrustTargets(ctx, role, parent)
	}
	tf, _, err := resolveTarget(fetch, targetPath, u.cfg.MaxDelegationDepth)
	return tf, err
}

// DownloadTarget fetches and integrity-checks the artifact for targetPath,
// using its recorded length and hashes from GetTargetInfo.
func (u *Updater) DownloadTarget(ctx context.Context, targetPath string) ([]byte, error) {
	tf, err := u.GetTargetInfo(ctx, targetPath)
	if err != nil {
		return nil, err
	}

	wirePath := targetPath
	if u.cfg.ConsistentSnapshot {
		digest, ok := tf.Hashes["sha256"]
		if !ok {
			return nil, errNoHashAvailable
		}
		wirePath = hashPrefixedFileName(targetPath, digest)
	}

	data, err := u.cfg.Fetcher.FetchTarget(ctx, wirePath, tf.Length)
	if err != nil {
		return nil, err
	}
	fm := FileMeta{Length: tf.Length, Hashes: tf.Hashes}
	if err := fm.Verify(data); err != nil {
		return nil, err
	}
	if err := u.writeCache(targetsCachePath(targetPath), data); err != nil {
		return nil, err
	}
	return data, nil
}

// FindCachedTarget returns a previously downloaded target's bytes from the
// local cache without any network access, verified afresh against tf.
// Returns errNoLocalCache if the local cache is disabled.
func (u *Updater) FindCachedTarget(targetPath string, tf *TargetFile) ([]byte, error) {
	if u.cfg.DisableLocalCache || u.cfg.Cache == nil {
		return nil, errNoLocalCache
	}
	data, err := u.cfg.Cache.Read(targetsCachePath(targetPath))
	if err != nil {
		return nil, err
	}
	fm := FileMeta{Length: tf.Length, Hashes: tf.Hashes}
	if err := fm.Verify(data); err != nil {
		return nil, err
	}
	return data, nil
}

// writeCache persists raw under name unless the local cache is disabled, in
// which case it's a no-op: metadata and targets live only in memory for the
// lifetime of this refresh.
func (u *Updater) writeCache(name string, raw []byte) error {
	if u.cfg.DisableLocalCache || u.cfg.Cache == nil {
		return nil
	}
	return u.cfg.Cache.Write(name, raw)
}

func targetsCachePath(targetPath string) string {
	return "targets/" + targetPath
}
