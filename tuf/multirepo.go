package tuf

import (
	"context"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// RepoMapTerm is one term of a TAP-4 mapping: match one or more of
// Repositories, each owning an independent Updater, and require at least
// Threshold of them to agree on a target's info before it's trusted.
type RepoMapTerm struct {
	Repositories []string
	Paths        []string
	Threshold    int
	Terminating  bool
}

// MultiRepoClient owns one Updater per named repository and evaluates a
// TAP-4 mapping across them. Each repository's refresh runs independently
// in its own goroutine with no shared state; only the final per-path
// agreement count is computed sequentially, after every refresh has
// finished.
type MultiRepoClient struct {
	updaters map[string]*Updater
	mapping  []RepoMapTerm
}

// NewMultiRepoClient pairs named updaters with a mapping describing which
// repositories must agree on which target path prefixes.
func NewMultiRepoClient(updaters map[string]*Updater, mapping []RepoMapTerm) *MultiRepoClient {
	return &MultiRepoClient{updaters: updaters, mapping: mapping}
}

// RefreshAll refreshes every repository in parallel via errgroup and waits
// for all of them; one repository's failure does not cancel the others.
// Every individual repository's error is collected into a multierror
// rather than dropping all but one.
func (m *MultiRepoClient) RefreshAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	var collector multierrorCollector
	var mu sync.Mutex

	for name, u := range m.updaters {
		name, u := name, u
		g.Go(func() error {
			if err := u.Refresh(ctx); err != nil {
				mu.Lock()
				collector.add(name, err)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return collector.asError()
}

// multierrorCollector accumulates per-repository errors. Callers are
// responsible for serializing concurrent add calls; RefreshAll guards it
// with a mutex since every repository's goroutine reports independently.
type multierrorCollector struct {
	errs *multierror.Error
}

func (c *multierrorCollector) add(repo string, err error) {
	c.errs = multierror.Append(c.errs, RepositoryNetworkError{URI: repo, Msg: err.Error()})
}

func (c *multierrorCollector) asError() error {
	if c.errs == nil {
		return nil
	}
	return c.errs
}

// GetTargetInfo evaluates the mapping in order for targetPath: for each
// term whose Paths match, query every one of its Repositories and require
// at least Threshold of them to return an identical TargetFile before
// trusting it. A Terminating term that matches but fails its threshold
// stops evaluation (no fallback to later terms); a non-terminating term
// that fails falls through to the next.
func (m *MultiRepoClient) GetTargetInfo(ctx context.Context, targetPath string) (*TargetFile, error) {
	for _, term := range m.mapping {
		if !pathMatchesAny(term.Paths, targetPath) {
			continue
		}

		results := make(map[string]*TargetFile, len(term.Repositories))
		for _, repoName := range term.Repositories {
			u, ok := m.updaters[repoName]
			if !ok {
				continue
			}
			tf, err := u.GetTargetInfo(ctx, targetPath)
			if err != nil {
				continue
			}
			results[repoName] = tf
		}

		agreed, tf := mostAgreed(results)
		if agreed >= term.Threshold {
			return tf, nil
		}
		if term.Terminating {
			return nil, TargetNotFoundError{Path: targetPath}
		}
	}
	return nil, TargetNotFoundError{Path: targetPath}
}

func pathMatchesAny(patterns []string, targetPath string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if matchPattern(p, targetPath) {
			return true
		}
	}
	return false
}

// mostAgreed groups results by a stable digest of their (length, hashes)
// and returns the size and representative value of the largest group,
// implementing the TAP-4 "repositories must serve identical target info"
// agreement rule.
func mostAgreed(results map[string]*TargetFile) (int, *TargetFile) {
	type group struct {
		count int
		tf    *TargetFile
	}
	groups := make(map[string]*group)
	for _, tf := range results {
		key := strconv.FormatInt(tf.Length, 10) + "|" + targetFileDigestKey(tf)
		g, ok := groups[key]
		if !ok {
			g = &group{tf: tf}
			groups[key] = g
		}
		g.count++
	}
	best := &group{}
	for _, g := range groups {
		if g.count > best.count {
			best = g
		}
	}
	return best.count, best.tf
}

func targetFileDigestKey(tf *TargetFile) string {
	key := ""
	for _, alg := range []string{"sha256", "sha512"} {
		if h, ok := tf.Hashes[alg]; ok {
			key += alg + "=" + h + ";"
		}
	}
	return key
}
