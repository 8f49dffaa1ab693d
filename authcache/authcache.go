// Package authcache persists which handshake construction each tile accepted,
// keyed by tile ID, so non-default firmware is recognized after first success.
package authcache

import (
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/ringfinder/tile"
)

type fileCache struct {
	filename string
	lock     sync.RWMutex
}

// New returns a file-backed tile.StrategyCache. The file is created on first
// Store.
func New(filename string) tile.StrategyCache {
	return &fileCache{filename: filename}
}

func (fc *fileCache) Store(tileID string, s tile.AuthStrategy) error {
	fc.lock.Lock()
	defer fc.lock.Unlock()

	cache, err := fc.loadExisting()
	if err != nil {
		return err
	}

	cache[tileID] = s

	return fc.storeCache(cache)
}

func (fc *fileCache) Load(tileID string) (tile.AuthStrategy, bool) {
	fc.lock.RLock()
	defer fc.lock.RUnlock()

	cache, err := fc.loadExisting()
	if err != nil {
		return 0, false
	}

	s, ok := cache[tileID]
	return s, ok
}

func (fc *fileCache) Clear() error {
	fc.lock.Lock()
	defer fc.lock.Unlock()

	err := os.Remove(fc.filename)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (fc *fileCache) loadExisting() (map[string]tile.AuthStrategy, error) {
	_, err := os.Stat(fc.filename)
	if os.IsNotExist(err) {
		return map[string]tile.AuthStrategy{}, nil
	}

	in, err := os.ReadFile(fc.filename)
	if err != nil {
		return nil, errors.Wrap(err, "authcache: reading cache file")
	}

	var cache map[string]tile.AuthStrategy
	if err := jsoniter.Unmarshal(in, &cache); err != nil {
		return nil, errors.Wrap(err, "authcache: decoding cache file")
	}

	return cache, nil
}

func (fc *fileCache) storeCache(cache map[string]tile.AuthStrategy) error {
	out, err := jsoniter.Marshal(cache)
	if err != nil {
		return errors.Wrap(err, "authcache: encoding cache")
	}

	return os.WriteFile(fc.filename, out, 0o600)
}

// Memory returns an in-process tile.StrategyCache, useful when persistence
// across runs is not wanted.
func Memory() tile.StrategyCache {
	return &memCache{m: map[string]tile.AuthStrategy{}}
}

type memCache struct {
	lock sync.RWMutex
	m    map[string]tile.AuthStrategy
}

func (mc *memCache) Store(tileID string, s tile.AuthStrategy) error {
	mc.lock.Lock()
	defer mc.lock.Unlock()
	mc.m[tileID] = s
	return nil
}

func (mc *memCache) Load(tileID string) (tile.AuthStrategy, bool) {
	mc.lock.RLock()
	defer mc.lock.RUnlock()
	s, ok := mc.m[tileID]
	return s, ok
}

func (mc *memCache) Clear() error {
	mc.lock.Lock()
	defer mc.lock.Unlock()
	mc.m = map[string]tile.AuthStrategy{}
	return nil
}
