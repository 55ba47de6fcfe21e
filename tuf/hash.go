package tuf

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// supportedHashAlgorithms lists the digest algorithms this package will
// verify. A FileMeta carrying only unsupported algorithm names is treated
// as unverifiable, not as vacuously satisfied.
var supportedHashAlgorithms = map[string]func() hasher{
	"sha256": func() hasher { return sha256.New() },
	"sha512": func() hasher { return sha512.New() },
}

type hasher interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
}

// Verify checks data against m's length and every hash digest m carries.
// Every declared hash using a supported algorithm must match; a single bad
// digest fails the whole check, it is not enough for one of several listed
// algorithms to match. A length mismatch or a bad digest is reported with
// the concrete expected/actual values rather than a bare boolean, and
// digest comparison is constant-time.
func (m FileMeta) Verify(data []byte) error {
	if m.Length != 0 && int64(len(data)) != m.Length {
		return IntegrityError{Msg: fmt.Sprintf("length mismatch: expected %d, got %d", m.Length, len(data))}
	}

	verified := 0
	for alg, want := range m.Hashes {
		newHash, ok := supportedHashAlgorithms[alg]
		if !ok {
			continue
		}
		wantBytes, err := hex.DecodeString(want)
		if err != nil {
			return IntegrityError{Msg: fmt.Sprintf("hash %q: malformed expected digest", alg)}
		}
		h := newHash()
		h.Write(data)
		got := h.Sum(nil)
		if subtle.ConstantTimeCompare(wantBytes, got) != 1 {
			return IntegrityError{Msg: fmt.Sprintf("hash %q mismatch: expected %s, got %x", alg, want, got)}
		}
		verified++
	}
	if verified == 0 && len(m.Hashes) > 0 {
		return IntegrityError{Msg: "no supported hash algorithm present in file meta"}
	}
	return nil
}

// Equal reports whether m and other describe the same length and carry at
// least one matching hash digest under a common algorithm. Two metas with
// no hashes at all compare equal on length alone. Nothing else in this
// package calls it; snapshot and target checks go through Verify.
func (m FileMeta) Equal(other FileMeta) bool {
	if m.Length != 0 && other.Length != 0 && m.Length != other.Length {
		return false
	}
	shared := false
	for alg, want := range m.Hashes {
		if got, ok := other.Hashes[alg]; ok {
			if subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1 {
				return true
			}
			shared = true
		}
	}
	if shared {
		return false
	}
	return len(m.Hashes) == 0 && len(other.Hashes) == 0
}
