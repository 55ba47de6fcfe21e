package tuf

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// LocalCache persists metadata and target files to a directory, writing
// through a temp-file-then-rename so a reader never observes a partial
// file.
type LocalCache struct {
	Dir string
}

// tmpFilePrefix is the reserved temp-file name stem; any file under Dir
// matching this prefix is considered in-flight and never read as trusted
// state.
const tmpFilePrefix = "tuf_tmp"

// NewLocalCache ensures dir exists, removes any stale tuf_tmp-prefixed
// file left behind by a process that died mid-write, and returns a cache
// rooted there.
func NewLocalCache(dir string) (*LocalCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating cache directory")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "listing cache directory")
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if len(e.Name()) >= len(tmpFilePrefix) && e.Name()[:len(tmpFilePrefix)] == tmpFilePrefix {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return &LocalCache{Dir: dir}, nil
}

// Read loads fileName's bytes, or returns os.IsNotExist(err) true when
// absent.
func (c *LocalCache) Read(fileName string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(c.Dir, fileName))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write persists data as fileName: write to a tuf_tmp-prefixed sibling,
// fsync, rename over the destination, then read it back to confirm the
// bytes landed exactly as given before returning.
func (c *LocalCache) Write(fileName string, data []byte) error {
	tmp, err := os.CreateTemp(c.Dir, tmpFilePrefix+"-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "syncing temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}

	dest := filepath.Join(c.Dir, fileName)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrap(err, "creating destination directory")
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return errors.Wrap(err, "renaming temp file into place")
	}

	reread, err := os.ReadFile(dest)
	if err != nil {
		return errors.Wrap(err, "re-reading persisted file")
	}
	if string(reread) != string(data) {
		return IntegrityError{Msg: fmt.Sprintf("persisted file %s did not round-trip", fileName)}
	}
	return nil
}

// MemoCache is a bounded, content-addressed memoization layer in front of
// verification work (parsed-and-verified envelopes keyed by the canonical
// digest of their raw bytes). It exists purely as a speed optimization: any
// result it returns must be identical to what re-running the verification
// path on the same bytes would produce, so disabling it never changes
// correctness, only latency.
type MemoCache[V any] struct {
	lru *lru.Cache[string, V]
}

// NewMemoCache builds a MemoCache holding at most size entries, evicting
// least-recently-used on overflow.
func NewMemoCache[V any](size int) (*MemoCache[V], error) {
	c, err := lru.New[string, V](size)
	if err != nil {
		return nil, errors.Wrap(err, "constructing lru cache")
	}
	return &MemoCache[V]{lru: c}, nil
}

// Key derives the memoization key for raw bytes: their hex SHA-256 digest.
func (c *MemoCache[V]) Key(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func (c *MemoCache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

func (c *MemoCache[V]) Put(key string, v V) {
	c.lru.Add(key, v)
}
