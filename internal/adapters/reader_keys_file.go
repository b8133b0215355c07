package adapters

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"

	"fleet-rollout/internal/ports"
	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

type readerKeysFile struct {
	Keys []types.AuthKey `yaml:"keys"`
}

// ReaderKeysFileAdapter persists reader auth keys. Only membership
// matters, so keys carry no metadata.
type ReaderKeysFileAdapter struct {
	Path string

	mu   sync.RWMutex
	keys map[types.AuthKey]struct{}
}

func OpenReaderKeysFile(path string) (*ReaderKeysFileAdapter, error) {
	a := &ReaderKeysFileAdapter{Path: path, keys: map[types.AuthKey]struct{}{}}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return a, nil
		}
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read reader keys").
			WithCause(err)
	}
	var file readerKeysFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to parse reader keys").
			WithCause(err)
	}
	for _, key := range file.Keys {
		a.keys[key] = struct{}{}
	}
	return a, nil
}

// NewKey creates, stores, and returns a fresh reader key.
func (a *ReaderKeysFileAdapter) NewKey(ctx context.Context) (types.AuthKey, error) {
	if err := ctx.Err(); err != nil {
		return types.AuthKey{}, err
	}
	key, err := types.NewAuthKey()
	if err != nil {
		return types.AuthKey{}, shared.KindErrorWithCause(types.ErrorInternal, "failed to generate reader key", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys[key] = struct{}{}
	if err := a.persistLocked(); err != nil {
		delete(a.keys, key)
		return types.AuthKey{}, err
	}
	return key, nil
}

func (a *ReaderKeysFileAdapter) Contains(ctx context.Context, key types.AuthKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.keys[key]
	return ok, nil
}

func (a *ReaderKeysFileAdapter) persistLocked() error {
	if a.Path == "" {
		return nil
	}
	file := readerKeysFile{Keys: make([]types.AuthKey, 0, len(a.keys))}
	for key := range a.keys {
		file.Keys = append(file.Keys, key)
	}
	sort.Slice(file.Keys, func(i, j int) bool {
		return file.Keys[i].String() < file.Keys[j].String()
	})
	content, err := yaml.Marshal(file)
	if err != nil {
		return shared.KindErrorWithCause(types.ErrorInternal, "failed to encode reader keys", err)
	}
	if err := shared.WriteFileAtomic(a.Path, content, 0o600); err != nil {
		return shared.KindErrorWithCause(types.ErrorInternal, "failed to write reader keys", err)
	}
	return nil
}

var _ ports.ReaderKeyPort = (*ReaderKeysFileAdapter)(nil)
