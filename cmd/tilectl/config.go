package main

import (
	"encoding/base64"
	"encoding/hex"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// config is the optional tilectl config file. Auth keys may come from here
// (offline use) or from the cloud account at run time.
type config struct {
	Account struct {
		Email    string `yaml:"email"`
		Password string `yaml:"password"`
	} `yaml:"account"`

	Tiles []tileEntry `yaml:"tiles"`

	Options struct {
		ScanTimeout time.Duration `yaml:"scan_timeout"`
		Volume      string        `yaml:"volume"`
		CacheFile   string        `yaml:"auth_method_cache"`
	} `yaml:"options"`
}

type tileEntry struct {
	Name    string `yaml:"name"`
	ID      string `yaml:"id"`
	AuthKey string `yaml:"auth_key"` // base64 or 32-char hex
}

func loadConfig(path string) (*config, error) {
	var cfg config
	if path == "" {
		return &cfg, nil
	}

	in, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	if err := yaml.Unmarshal(in, &cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	return &cfg, nil
}

// lookupTile resolves a name or tile ID from the config.
func (c *config) lookupTile(nameOrID string) (tileEntry, bool) {
	for _, t := range c.Tiles {
		if t.Name == nameOrID || t.ID == nameOrID {
			return t, true
		}
	}
	return tileEntry{}, false
}

// decodeKey accepts the two encodings auth keys circulate in.
func decodeKey(s string) ([]byte, error) {
	if len(s) == 32 {
		if b, err := hex.DecodeString(s); err == nil {
			return b, nil
		}
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.New("auth key is neither 32-char hex nor base64")
	}
	return b, nil
}
