package scoring

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/okian/matchday/pkg/logger"
	"gopkg.in/yaml.v3"
)

// Loader publishes YAML ruleset files from a directory into a Registry.
type Loader struct {
	dir      string
	registry *Registry
	log      logger.Logger
	onChange []func(*RuleSet)
}

// NewLoader creates a loader for dir.
func NewLoader(dir string, registry *Registry) *Loader {
	return &Loader{dir: dir, registry: registry, log: logger.Get().Named("rules")}
}

// OnChange registers a callback invoked for each newly published ruleset.
func (l *Loader) OnChange(fn func(*RuleSet)) {
	l.onChange = append(l.onChange, fn)
}

// LoadAll publishes every *.yaml / *.yml file in the directory, in name order.
func (l *Loader) LoadAll(ctx context.Context) error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("read rules dir %s: %w", l.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isRulesFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if err := l.LoadFile(ctx, filepath.Join(l.dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile parses and publishes a single ruleset file.
func (l *Loader) LoadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read ruleset %s: %w", path, err)
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return fmt.Errorf("parse ruleset %s: %w", path, err)
	}
	known := len(l.registry.Versions(rs.SportID))
	if err := l.registry.Publish(rs); err != nil {
		return fmt.Errorf("publish ruleset %s: %w", path, err)
	}
	if len(l.registry.Versions(rs.SportID)) == known {
		return nil
	}
	published, err := l.registry.Get(rs.SportID, rs.Version)
	if err != nil {
		return err
	}
	l.log.Info(ctx, "ruleset published",
		logger.String("sport", published.SportID),
		logger.Int("version", published.Version),
		logger.Int("rules", len(published.Rules)))
	for _, fn := range l.onChange {
		fn(published)
	}
	return nil
}

// Watch publishes ruleset files dropped into the directory until ctx is done
// or stop is called. Invalid files are logged and skipped.
func (l *Loader) Watch(ctx context.Context) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rules watcher: %w", err)
	}
	if err := w.Add(l.dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("rules watcher add %s: %w", l.dir, err)
	}

	done := make(chan struct{})
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !isRulesFile(ev.Name) || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				if err := l.LoadFile(ctx, ev.Name); err != nil {
					l.log.Warn(ctx, "ruleset rejected", logger.String("file", ev.Name), logger.Error(err))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.log.Warn(ctx, "rules watcher error", logger.Error(err))
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

func isRulesFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
