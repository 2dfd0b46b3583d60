package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memuri/internal/memory"
)

// RulesWatcher hot-reloads the category rule table when the config file
// changes. Only the rules section takes effect at runtime; other sections
// need a restart. A reload that fails validation keeps the current table.
type RulesWatcher struct {
	path   string
	rules  *memory.RuleTableRef
	fsw    *fsnotify.Watcher
	logger *zap.Logger
}

// NewRulesWatcher watches the directory containing path. Watching the
// directory rather than the file survives editors that replace on save.
func NewRulesWatcher(path string, rules *memory.RuleTableRef, logger *zap.Logger) (*RulesWatcher, error) {
	if rules == nil {
		return nil, fmt.Errorf("rule table reference cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching config directory: %w", err)
	}

	return &RulesWatcher{path: path, rules: rules, fsw: fsw, logger: logger}, nil
}

// Run processes file events until ctx is cancelled.
func (w *RulesWatcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *RulesWatcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping current rules", zap.Error(err))
		return
	}
	table, err := cfg.Rules.BuildRuleTable()
	if err != nil {
		w.logger.Warn("rule table rebuild failed, keeping current rules", zap.Error(err))
		return
	}

	next := table.WithVersion(w.rules.Load().Version() + 1)
	w.rules.Store(next)
	w.logger.Info("reloaded category rules",
		zap.Uint64("version", next.Version()),
		zap.Int("categories", len(next.Categories())))
}
