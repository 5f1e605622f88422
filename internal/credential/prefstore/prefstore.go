// Package prefstore keeps the user's tokens in a small preferences file.
package prefstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/phuslu/log"
	"github.com/spf13/viper"
)

type PrefStore struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
	log  log.Logger
}

// Open loads the preferences file at path. A missing file is not an error,
// it is created on the first write.
func Open(path string) (*PrefStore, error) {
	p := &PrefStore{path: path}
	p.log = log.DefaultLogger
	p.log.Context = log.NewContext(nil).Str("module", "prefstore").Str("path", path).Value()
	p.v = viper.New()
	p.v.SetConfigFile(path)
	err := p.v.ReadInConfig()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read prefs %s: %w", path, err)
	}
	return p, nil
}

func (p *PrefStore) Get(_ context.Context, key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.GetString(key), nil
}

func (p *PrefStore) Set(_ context.Context, key string, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.v.Set(key, value)
	return p.flush()
}

// Delete blanks the key; viper has no way to unset a value and an empty
// token reads as absent.
func (p *PrefStore) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.v.Set(key, "")
	return p.flush()
}

func (p *PrefStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return err
	}
	err := p.v.WriteConfigAs(p.path)
	if err != nil {
		p.log.Error().Err(err).Msg("error writing prefs file")
		return err
	}
	return os.Chmod(p.path, 0600)
}
