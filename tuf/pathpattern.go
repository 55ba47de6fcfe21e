package tuf

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// matchesDelegation reports whether targetPath (forward-slash separated)
// is claimed by any of dr's Paths patterns or PathHashPrefixes bins. A
// delegation with neither set claims nothing, matching the fail-closed
// behavior the rest of this package holds to.
func matchesDelegation(dr DelegatedRole, targetPath string) bool {
	for _, pat := range dr.Paths {
		if matchPattern(pat, targetPath) {
			return true
		}
	}
	if len(dr.PathHashPrefixes) > 0 {
		sum := sha256.Sum256([]byte(targetPath))
		digest := hex.EncodeToString(sum[:])
		for _, prefix := range dr.PathHashPrefixes {
			if strings.HasPrefix(digest, prefix) {
				return true
			}
		}
	}
	return false
}

// matchPattern matches a glob pattern against a forward-slash path,
// segment by segment. Within a segment, "*" matches any run of characters
// (including none) and "?" matches exactly one character. A "**" segment
// matches zero or more whole path segments, so it is handled separately
// from ordinary segment matching rather than folded into the single-"*"
// case.
func matchPattern(pattern, path string) bool {
	return matchSegmentList(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchSegmentList(pat, seg []string) bool {
	if len(pat) == 0 {
		return len(seg) == 0
	}

	if pat[0] == "**" {
		// "**" may consume zero or more segments; try every split point.
		for i := 0; i <= len(seg); i++ {
			if matchSegmentList(pat[1:], seg[i:]) {
				return true
			}
		}
		return false
	}

	if len(seg) == 0 {
		return false
	}
	if !matchSegment(pat[0], seg[0]) {
		return false
	}
	return matchSegmentList(pat[1:], seg[1:])
}

// matchSegment matches a single path segment (no "/" in either argument)
// against a pattern segment using "*" and "?" wildcards.
func matchSegment(pattern, s string) bool {
	pr := []rune(pattern)
	sr := []rune(s)

	var pi, si int
	starIdx, starMatch := -1, 0

	for si < len(sr) {
		switch {
		case pi < len(pr) && pr[pi] == '?':
			pi++
			si++
		case pi < len(pr) && pr[pi] == sr[si]:
			pi++
			si++
		case pi < len(pr) && pr[pi] == '*':
			starIdx = pi
			starMatch = si
			pi++
		case starIdx >= 0:
			pi = starIdx + 1
			starMatch++
			si = starMatch
		default:
			return false
		}
	}
	for pi < len(pr) && pr[pi] == '*' {
		pi++
	}
	return pi == len(pr)
}
