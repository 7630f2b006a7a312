// Package daemon keeps a set of projects in sync on a fixed interval.
//
// The daemon:
//  1. Runs a full cycle (every resource of every target) on start
//  2. Repeats the cycle each Interval
//  3. Watches the config file and, after a quiet period, reloads the
//     target list and runs a cycle
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	engine "github.com/squiddy/gitlab-to-sqlite/internal/sync"
)

// Syncer runs every resource sync for one project; *sync.Syncer
// implementations satisfy it.
type Syncer interface {
	SyncAll(ctx context.Context, fullPath string, environments []string) ([]engine.Result, error)
}

// Target is one project and the environments whose deployments are
// followed.
type Target struct {
	Project      string
	Environments []string
}

// Summary describes one cycle over all targets.
type Summary struct {
	Started  time.Time
	Duration time.Duration
	Results  []engine.Result
	// Failed counts targets whose sync stopped with an error.
	Failed int
	// Errors holds the error of each failed target, keyed by project.
	Errors map[string]error
}

// Config holds configuration for the daemon.
type Config struct {
	// Interval is the time between cycles
	Interval time.Duration

	// DebounceInterval is how long the config file must stay unchanged
	// before it is reloaded. Editors often write a file several times.
	DebounceInterval time.Duration

	// ConfigFile is watched for changes when set
	ConfigFile string

	// Reload returns the new target list after ConfigFile changed. A
	// failing reload keeps the previous targets.
	Reload func() ([]Target, error)

	// OnCycle is called after every cycle
	OnCycle func(Summary, error)

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         15 * time.Minute,
		DebounceInterval: 2 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon runs sync cycles until stopped.
type Daemon struct {
	syncer  Syncer
	targets []Target
	config  *Config

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a daemon for the given targets.
//
// Use Start() to begin syncing.
func New(syncer Syncer, targets []Target, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", config.Interval)
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	return &Daemon{
		syncer:  syncer,
		targets: targets,
		config:  config,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// RunOnce syncs every target in order. A failing target does not stop
// the others; the returned error joins all failures.
//
// RunOnce must not be called while Start is running.
func (d *Daemon) RunOnce(ctx context.Context) (Summary, error) {
	summary := Summary{Started: time.Now()}
	var errs []error

	for _, target := range d.targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		results, err := d.syncer.SyncAll(ctx, target.Project, target.Environments)
		summary.Results = append(summary.Results, results...)
		if err != nil {
			summary.Failed++
			if summary.Errors == nil {
				summary.Errors = make(map[string]error)
			}
			summary.Errors[target.Project] = err
			errs = append(errs, fmt.Errorf("%s: %w", target.Project, err))
			d.config.Logger.Printf("Warning: sync of %s failed: %v", target.Project, err)
		}
	}

	summary.Duration = time.Since(summary.Started)
	return summary, errors.Join(errs...)
}

// Start runs a cycle immediately and then every Interval, reloading the
// targets when the config file changes.
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("daemon already started")
	}
	defer close(d.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	d.config.Logger.Printf("Starting daemon (%d targets, every %v)", len(d.targets), d.config.Interval)

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if d.config.ConfigFile != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		defer watcher.Close()

		// Editors replace files by renaming, so watch the directory.
		if err := watcher.Add(filepath.Dir(d.config.ConfigFile)); err != nil {
			return fmt.Errorf("failed to watch config directory: %w", err)
		}
		events, watchErrs = watcher.Events, watcher.Errors
		d.config.Logger.Printf("Watching: %s", d.config.ConfigFile)
	}

	d.cycle(ctx)

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var reload <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	configFile := filepath.Clean(d.config.ConfigFile)

	for {
		select {
		case <-ctx.Done():
			d.config.Logger.Println("Daemon stopped")
			return nil

		case <-ticker.C:
			d.cycle(ctx)

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(event.Name) != configFile {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			d.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
			if debounce == nil {
				debounce = time.NewTimer(d.config.DebounceInterval)
			} else {
				debounce.Reset(d.config.DebounceInterval)
			}
			reload = debounce.C

		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			d.config.Logger.Printf("Watcher error: %v", err)

		case <-reload:
			reload = nil
			d.reload()
			d.cycle(ctx)
		}
	}
}

// Stop ends Start and waits for it to return.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() { close(d.stop) })
	if d.running.Load() {
		<-d.done
	}
	return nil
}

func (d *Daemon) cycle(ctx context.Context) {
	summary, err := d.RunOnce(ctx)
	records := 0
	for _, res := range summary.Results {
		records += res.Count
	}
	d.config.Logger.Printf("Cycle complete in %v: %d runs, %d records, %d failed targets",
		summary.Duration.Round(time.Millisecond), len(summary.Results), records, summary.Failed)

	if d.config.OnCycle != nil {
		d.config.OnCycle(summary, err)
	}
}

func (d *Daemon) reload() {
	if d.config.Reload == nil {
		return
	}
	targets, err := d.config.Reload()
	if err != nil {
		d.config.Logger.Printf("Warning: reload failed, keeping %d targets: %v", len(d.targets), err)
		return
	}
	d.targets = targets
	d.config.Logger.Printf("Reloaded config: %d targets", len(targets))
}
