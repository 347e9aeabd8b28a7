package envconfig

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

const (
	lockRetryDelay = 10 * time.Millisecond
	lockTimeout    = 5 * time.Second
)

type entryMap map[string]*Entry

// YamlEnvConfig implements EnvConfig with an underlying yaml file. Every
// operation holds an advisory lock on a sibling .lock file for its duration.
type YamlEnvConfig struct {
	path     string
	fileLock *flock.Flock
}

func NewYamlEnvConfig(path string) (*YamlEnvConfig, error) {
	// create path if needed
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create %s: %s", path, err)
	}
	return &YamlEnvConfig{
		path:     path,
		fileLock: flock.New(path + ".lock"),
	}, nil
}

func (y *YamlEnvConfig) Path() string {
	return y.path
}

func (y *YamlEnvConfig) Set(id string, entry *Entry) (string, error) {
	unlock, err := y.lock()
	if err != nil {
		return "", err
	}
	defer unlock()

	// first, load entries into memory
	em, err := y.load()
	if err != nil {
		return "", err
	}

	reconcile(entry)
	em[id] = entry

	if err = y.save(em); err != nil {
		return "", err
	}

	return entry.Value, nil
}

func (y *YamlEnvConfig) Get(id string) (string, error) {
	unlock, err := y.lock()
	if err != nil {
		return "", err
	}
	defer unlock()

	em, err := y.load()
	if err != nil {
		return "", err
	}

	entry, ok := em[id]
	if !ok {
		return "", &KeyError{Key: id}
	}

	if changed := reconcile(entry); changed {
		if err := y.save(em); err != nil {
			return "", err
		}
	}
	return entry.Value, nil
}

func (y *YamlEnvConfig) Delete(id string, hard bool) error {
	unlock, err := y.lock()
	if err != nil {
		return err
	}
	defer unlock()

	em, err := y.load()
	if err != nil {
		return err
	}

	entry, ok := em[id]
	if !ok {
		return &KeyError{Key: id}
	}
	delete(em, id)

	// finally hard delete, unset the env var
	if hard && entry.Env != "" {
		os.Unsetenv(entry.Env)
	}

	return y.save(em)
}

func (y *YamlEnvConfig) lock() (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	if locked, err := y.fileLock.TryLockContext(ctx, lockRetryDelay); err != nil {
		return nil, &LockError{Path: y.path, InnerErr: err}
	} else if !locked {
		return nil, &LockError{Path: y.path, InnerErr: fmt.Errorf("lock not acquired")}
	}

	return func() { y.fileLock.Unlock() }, nil
}

// reconcile makes the entry and its environment variable agree, the variable
// winning when both are set. It reports whether the entry's value changed.
func reconcile(entry *Entry) bool {
	if entry.Env == "" {
		return false
	}

	if envValue, ok := os.LookupEnv(entry.Env); ok {
		if envValue != entry.Value {
			entry.Value = envValue
			return true
		}
		return false
	}

	os.Setenv(entry.Env, entry.Value)
	return false
}

func (y *YamlEnvConfig) save(em entryMap) error {
	// marshal entrymap into bytes
	emBytes, err := yaml.Marshal(em)
	if err != nil {
		return &ValidationError{InnerErr: err}
	}

	// write to a temp file and rename so readers never see a partial file
	tmp := y.path + ".tmp"
	if err := os.WriteFile(tmp, emBytes, 0600); err != nil {
		return &FileError{Path: tmp, InnerErr: err}
	}
	if err := os.Rename(tmp, y.path); err != nil {
		return &FileError{Path: y.path, InnerErr: err}
	}

	return nil
}

func (y *YamlEnvConfig) load() (entryMap, error) {
	data, err := os.ReadFile(y.path)
	if errors.Is(err, fs.ErrNotExist) {
		return entryMap{}, nil
	} else if err != nil {
		return nil, &FileError{Path: y.path, InnerErr: err}
	}

	em := entryMap{}
	if err = yaml.Unmarshal(data, &em); err != nil {
		return nil, &ValidationError{InnerErr: err}
	}

	return em, nil
}
