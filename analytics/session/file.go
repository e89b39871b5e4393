// SPDX-License-Identifier: ice License 1.0

package session

import (
	"context"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wpbe/wintr/time"
)

// NewFileKV keeps the values of one scope in a msgpack file under dir, replaced atomically on every write.
func NewFileKV(dir, scope string) (KV, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "wpbe")
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, errors.Wrapf(err, "failed to create %v", dir)
	}

	return &fileKV{mx: new(sync.Mutex), path: filepath.Join(dir, scopeHash(scope)+fileExtension)}, nil
}

func (f *fileKV) Get(_ context.Context, keys ...string) (map[string]string, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	state, err := f.load()
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, found := state.Values[key]; found {
			values[key] = val
		}
	}

	return values, nil
}

func (f *fileKV) Set(_ context.Context, values map[string]string) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	state, err := f.load()
	if err != nil {
		return err
	}
	maps.Copy(state.Values, values)

	return f.save(state)
}

func (f *fileKV) Delete(_ context.Context, keys ...string) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	state, err := f.load()
	if err != nil {
		return err
	}
	for _, key := range keys {
		delete(state.Values, key)
	}

	return f.save(state)
}

func (*fileKV) Close() error {
	return nil
}

func (f *fileKV) load() (*fileState, error) {
	state := &fileState{Values: make(map[string]string, 1+1+1+1)}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state, nil
		}

		return nil, errors.Wrapf(err, "failed to read %v", f.path)
	}
	if err = msgpack.Unmarshal(data, state); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %v", f.path)
	}
	if state.Values == nil {
		state.Values = make(map[string]string, 1+1+1+1)
	}

	return state, nil
}

func (f *fileKV) save(state *fileState) error {
	state.UpdatedAt = time.Now()
	data, err := msgpack.Marshal(state)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %v", f.path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for %v", f.path)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // Gone after the rename anyway.
	if _, err = tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec // Write already failed.

		return errors.Wrapf(err, "failed to write %v", tmp.Name())
	}
	if err = tmp.Chmod(fileMode); err != nil {
		tmp.Close() //nolint:errcheck,gosec // Chmod already failed.

		return errors.Wrapf(err, "failed to chmod %v", tmp.Name())
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %v", tmp.Name())
	}

	return errors.Wrapf(os.Rename(tmp.Name(), f.path), "failed to replace %v", f.path)
}
