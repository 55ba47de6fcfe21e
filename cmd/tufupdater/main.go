// Command tufupdater is a thin CLI wrapper over the tuf package: refresh a
// repository's trusted metadata, look up a target, or download one. CLI
// behavior is not this project's concern beyond exposing these three
// operations with stable exit codes, so flags and output stay minimal.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kolide/tuf/tuf"
)

// Exit codes are stable across releases so scripts can branch on them.
const (
	exitSuccess             = 0
	exitGenericError        = 1
	exitNetworkError        = 2
	exitVerificationError   = 3
	exitIntegrityError      = 4
	exitConfigurationError  = 5
	exitTargetNotFoundError = 6
)

func exitCodeFor(err error) int {
	switch err.(type) {
	case nil:
		return exitSuccess
	case tuf.RepositoryNetworkError, tuf.FileSizeError:
		return exitNetworkError
	case tuf.SignatureVerificationError, tuf.InsufficientSignaturesError,
		tuf.ExpiredMetadataError, tuf.RollbackAttackError, tuf.BadVersionError:
		return exitVerificationError
	case tuf.IntegrityError:
		return exitIntegrityError
	case tuf.ConfigurationError, tuf.DeserializationError:
		return exitConfigurationError
	case tuf.TargetNotFoundError, tuf.MaxDelegationDepthError, tuf.DelegationError:
		return exitTargetNotFoundError
	default:
		return exitGenericError
	}
}

var (
	flMetadataURL string
	flTargetsURL  string
	flRootPath    string
	flCacheDir    string
	flConsistent  bool
	flNoCache     bool
	flTimeout     time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "tufupdater",
		Short: "Refresh and query a TUF repository's trusted metadata",
	}
	root.PersistentFlags().StringVar(&flMetadataURL, "metadata-url", "", "repository metadata base URL")
	root.PersistentFlags().StringVar(&flTargetsURL, "targets-url", "", "repository targets base URL")
	root.PersistentFlags().StringVar(&flRootPath, "root-file", "root.json", "path to the trusted initial root.json")
	root.PersistentFlags().StringVar(&flCacheDir, "cache-dir", "./tuf-cache", "local metadata and target cache directory")
	root.PersistentFlags().BoolVar(&flConsistent, "consistent-snapshot", true, "repository uses consistent snapshots")
	root.PersistentFlags().BoolVar(&flNoCache, "disable-local-cache", false, "skip local metadata and target caching entirely")
	root.PersistentFlags().DurationVar(&flTimeout, "timeout", 30*time.Second, "per-request network timeout")

	root.AddCommand(refreshCmd(), getTargetInfoCmd(), downloadTargetCmd())

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func newUpdater() (*tuf.Updater, error) {
	rootBytes, err := os.ReadFile(flRootPath)
	if err != nil {
		return nil, tuf.ConfigurationError{Msg: err.Error()}
	}
	var cache *tuf.LocalCache
	if !flNoCache {
		cache, err = tuf.NewLocalCache(flCacheDir)
		if err != nil {
			return nil, err
		}
	}
	fetcher := tuf.NewHTTPFetcher(flMetadataURL, flTargetsURL, 3, flTimeout)
	return tuf.NewUpdater(tuf.UpdaterConfig{
		RootBytes:          rootBytes,
		Fetcher:            fetcher,
		Cache:              cache,
		ConsistentSnapshot: flConsistent,
		DisableLocalCache:  flNoCache,
	})
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh trusted metadata from the repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := newUpdater()
			if err != nil {
				return err
			}
			if err := u.Refresh(context.Background()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "refresh complete")
			return nil
		},
	}
}

func getTargetInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-target-info <path>",
		Short: "Resolve a target path to its recorded length and hashes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := newUpdater()
			if err != nil {
				return err
			}
			ctx := context.Background()
			if err := u.Refresh(ctx); err != nil {
				return err
			}
			tf, err := u.GetTargetInfo(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "length=%d hashes=%v\n", tf.Length, tf.Hashes)
			return nil
		},
	}
}

func downloadTargetCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "download-target <path>",
		Short: "Download and verify a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := newUpdater()
			if err != nil {
				return err
			}
			ctx := context.Background()
			if err := u.Refresh(ctx); err != nil {
				return err
			}
			data, err := u.DownloadTarget(ctx, args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = filepath.Base(args[0])
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return tuf.ConfigurationError{Msg: err.Error()}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(data), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file path (default: target path's basename)")
	return cmd
}
