// Package scriptfile loads the interview script from a YAML file and reloads
// it when the file changes.
package scriptfile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/storefront-studio/internal/interview"
)

// Provider serves the most recently loaded script.
type Provider struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	watcher *fsnotify.Watcher
	current interview.Script
}

// NewProvider creates a provider for path. Until Load succeeds, Current
// returns interview.DefaultScript.
func NewProvider(path string, logger *slog.Logger) (*Provider, error) {
	if path == "" {
		return nil, fmt.Errorf("script path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		path:    path,
		logger:  logger,
		current: interview.DefaultScript(),
	}, nil
}

// Parse reads and validates the script at path. Texts missing from the file
// fall back to the built-in script.
func Parse(path string) (interview.Script, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return interview.Script{}, fmt.Errorf("read script %s: %w", path, err)
	}

	var s interview.Script
	if err := k.Unmarshal("", &s); err != nil {
		return interview.Script{}, fmt.Errorf("decode script %s: %w", path, err)
	}
	if s.Locale == "" {
		s.Locale = interview.DefaultScript().Locale
	}
	s = s.WithDefaults()
	if err := s.Validate(); err != nil {
		return interview.Script{}, fmt.Errorf("invalid script %s: %w", path, err)
	}
	return s, nil
}

// Load loads the script from the file.
func (p *Provider) Load(ctx context.Context) (interview.Script, error) {
	s, err := Parse(p.path)
	if err != nil {
		return interview.Script{}, err
	}

	p.mu.Lock()
	p.current = s
	p.mu.Unlock()

	p.logger.Info("interview script loaded",
		slog.String("path", p.path),
		slog.Int("questions", len(s.Questions)),
	)
	return s, nil
}

// Current returns the active script. Its signature matches
// session.ScriptSource.
func (p *Provider) Current() interview.Script {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Watch reloads the script whenever the file is written or replaced and
// calls onChange with each script that parses. Invalid edits are logged and
// the previous script stays active.
func (p *Provider) Watch(ctx context.Context, onChange func(interview.Script)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	p.mu.Lock()
	p.watcher = watcher
	p.mu.Unlock()

	// Watch the directory so editors that replace the file are seen too.
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	p.logger.Info("watching interview script for changes", slog.String("path", p.path))

	target := filepath.Clean(p.path)
	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("script watch stopped")
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				p.logger.Info("interview script changed, reloading", slog.String("path", event.Name))

				s, err := p.Load(ctx)
				if err != nil {
					p.logger.Error("failed to reload interview script",
						slog.String("error", err.Error()),
						slog.String("path", p.path))
					continue
				}

				if onChange != nil {
					onChange(s)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Error("script watch error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}

// Close stops watching the file.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watcher != nil {
		return p.watcher.Close()
	}

	return nil
}
