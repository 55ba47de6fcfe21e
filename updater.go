// Package updater is included in a program to provide secure, automated updates. The
// updater uses the tuf package to facilitate secure updates. The update
// packages are mirrored on a remote location such as Google Cloud Storage. When updater
// is created it checks the repository to see if there are any new updates to apply. If
// there are, each update will be applied.  If any of the updates fail, previous successful
// updates are rolled back.
//
// See TUF Spec https://theupdateframework.github.io/specification/latest/
package updater

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/kolide/tuf/tuf"
)

// EventType classifies errors that occur in the update process
type EventType int

const (
	// InfoType indicates event is routine
	InfoType EventType = iota
	ErrorType
)

const backupSubDir = "backup"

// Config describes the repository an Updater checks and the artifacts it
// should stage from it. TUFUpdater and Cache must share the same
// *tuf.LocalCache: Cache lets this package locate the bytes TUFUpdater's
// DownloadTarget persisted.
type Config struct {
	TUFUpdater  *tuf.Updater
	Cache       *tuf.LocalCache
	TargetPaths []string
	InstallDir  string
	StagingPath string
}

func (c *Config) verify() error {
	if c.TUFUpdater == nil {
		return errors.New("tuf updater is required")
	}
	if c.Cache == nil {
		return errors.New("cache is required")
	}
	if c.InstallDir == "" {
		return errors.New("install dir is required")
	}
	return nil
}

// Updater handles software updates for an application
type Updater struct {
	ticker              *time.Ticker
	done                chan struct{}
	cfg                 Config
	checkFrequency      time.Duration
	notificationHandler NotificationHandler
	cmd                 exec.Cmd
}

// Event information about an update
type Event struct {
	Time        time.Time
	Description string
	Type        EventType
}

// Events information about a update cycle
type Events struct {
	History []Event
}

func (evts *Events) push(evtType EventType, format string, args ...interface{}) {
	evts.History = append(evts.History, Event{time.Now(), fmt.Sprintf(format, args...), evtType})
}

// NotificationHandler will be invoked when the updater runs. Events describing
// that status of the update will be collected in Events.
type NotificationHandler func(evts Events)

const defaultCheckFrequency = 1 * time.Hour
const minimumCheckFrequency = 10 * time.Minute

// ErrCheckFrequency caused by supplying a check frequency that was too small.
var ErrCheckFrequency = fmt.Errorf("Frequency value must be %q or greater", minimumCheckFrequency)

// ErrPackageDoesNotExist the package file does not exist
var ErrPackageDoesNotExist = fmt.Errorf("package file does not exist")

// New creates a new updater. exeCmd is the required cmd for the executable file
// hosting the updater package. By default the updater will check for updates every hour
// but this may be changed by passing Frequency as an option.  The minimum
// frequency is 10 minutes.  Anything less than that will cause an error.
// Supply the WantNotfications option to get logging information about updates.
func New(cfg Config, exeCmd exec.Cmd, opts ...func() interface{}) (*Updater, error) {
	if err := cfg.verify(); err != nil {
		return nil, errors.Wrap(err, "creating updater")
	}
	updater := Updater{
		cfg:            cfg,
		checkFrequency: defaultCheckFrequency,
		cmd:            exeCmd,
	}
	for _, opt := range opts {
		switch t := opt().(type) {
		case updateDuration:
			updater.checkFrequency = time.Duration(t)
		case NotificationHandler:
			updater.notificationHandler = t
		}
	}
	if updater.checkFrequency < minimumCheckFrequency {
		return nil, ErrCheckFrequency
	}
	return &updater, nil
}

type updateDuration time.Duration

// Frequency allows changing the frequency of update checks by passing
// this method to update.New
func Frequency(duration time.Duration) func() interface{} {
	return func() interface{} {
		return updateDuration(duration)
	}
}

// WantNotifications is used to pass a function that will collect information about updates.
func WantNotifications(hnd NotificationHandler) func() interface{} {
	return func() interface{} {
		return hnd
	}
}

// Start begins checking for updates.
func (u *Updater) Start() {
	u.ticker = time.NewTicker(u.checkFrequency)
	u.done = make(chan struct{})
	go updaterLoop(u.cfg, u.cmd, u.ticker.C, u.done, u.notificationHandler)
}

// Stop will disable update checks
func (u *Updater) Stop() {
	if u.ticker != nil {
		u.ticker.Stop()
	}
	if u.done != nil {
		u.done <- struct{}{}
	}
}

func updaterLoop(cfg Config, cmd exec.Cmd, ticker <-chan time.Time, done <-chan struct{}, notifications NotificationHandler) {
	for {
		select {
		case <-ticker:
			update(cfg, cmd, notifications)
		case <-done:
			return
		}
	}
}

func update(cfg Config, cmd exec.Cmd, notifications NotificationHandler) {
	var events Events
	defer func() {
		if notifications != nil {
			notifications(events)
		}
	}()

	events.push(InfoType, "start check for updates")
	// get pending updates, the validity of package signatures in the updates
	// are checked before they are returned.
	updates, err := getStagedPaths(context.Background(), cfg)
	if err != nil {
		events.push(ErrorType, "Error getting updates %q", err)
		return
	}
	// Prepare to install by copying the current install into a backup directory.
	// We expect the install program to write it's changes into the install directory. If
	// something fails, we replace the modified install directory with it's original
	// contents.
	backupDirectory, err := backup(cfg.InstallDir, cfg.StagingPath)
	if err != nil {
		events.push(ErrorType, "Could not create application backup")
		return
	}
	var successfulUpdates []string
	for _, updatePackagePath := range updates {
		events.push(InfoType, "start update with package %q", updatePackagePath)
		err = applyUpdate(updatePackagePath)
		if err != nil {
			events.push(ErrorType, "applying update error %q", err)
			continue
		}
		events.push(InfoType, "updated %q", updatePackagePath)
		successfulUpdates = append(successfulUpdates, updatePackagePath)
	}

	if len(successfulUpdates) < len(updates) {
		events.push(ErrorType, "%d of %d updates succeeded, rolling back", len(successfulUpdates), len(updates))
		err = rollback(backupDirectory, cfg.InstallDir)
		if err != nil {
			events.push(ErrorType, "rollback failed")
		}
		return
	}
	events.push(InfoType, "updates complete")
	if len(updates) > 0 && len(updates) == len(successfulUpdates) {
		restart(cmd)
	}
}

// getStagedPaths refreshes the repository's trusted metadata, resolves and
// downloads each of cfg.TargetPaths, and returns the local filesystem paths
// the validated packages were staged to. Each path returned has already
// passed tuf.Updater.DownloadTarget's length and hash verification.
func getStagedPaths(ctx context.Context, cfg Config) ([]string, error) {
	if err := cfg.TUFUpdater.Refresh(ctx); err != nil {
		return nil, errors.Wrap(err, "refreshing trusted metadata")
	}

	var staged []string
	for _, targetPath := range cfg.TargetPaths {
		if _, err := cfg.TUFUpdater.DownloadTarget(ctx, targetPath); err != nil {
			return nil, errors.Wrapf(err, "downloading target %q", targetPath)
		}
		staged = append(staged, filepath.Join(cfg.Cache.Dir, "targets", targetPath))
	}
	return staged, nil
}

// Backs up contents of the install directory, and symlinks in the
// install directory tree are not followed.
func backup(installPath, stagingPath string) (string, error) {
	backupSubDir := filepath.Join(stagingPath, backupSubDir, time.Now().UTC().Format("20060102T150405"))
	err := os.MkdirAll(backupSubDir, 0744)
	if err != nil {
		return "", errors.Wrap(err, "creating backup directory")
	}
	err = copyRecursive(installPath, backupSubDir)
	if err != nil {
		return "", errors.Wrap(err, "backing up installation files")
	}
	return backupSubDir, nil
}

func rollback(backupPath, installPath string) error {
	err := os.RemoveAll(installPath)
	if err != nil {
		return errors.Wrap(err, "removing bad install")
	}
	err = os.Rename(backupPath, installPath)
	if err != nil {
		return errors.Wrap(err, "replacing old install")
	}
	return nil
}

func applyUpdate(updatePackagePath string) error {
	// each update is an executable that does stuff
	// it could be as simple as updating some config files, or
	// it could update the agent and restart it
	_, err := os.Stat(updatePackagePath)
	if os.IsNotExist(err) {
		return ErrPackageDoesNotExist
	}
	if err != nil {
		return errors.Wrap(err, "checking for package existance")
	}
	// file exists change to executable
	err = os.Chmod(updatePackagePath, 0744)
	if err != nil {
		return errors.Wrap(err, "setting package to executable")
	}
	cmd := exec.Command(updatePackagePath)
	// execute update package and wait for it to complete
	return cmd.Run()
}
