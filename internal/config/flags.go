package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// FlagDateMigration is active until the first initial scan after a date
// handling change has completed.
const FlagDateMigration = "date_migration"

// FlagsFileName is the name of the persisted flags file inside DirName.
const FlagsFileName = "flags.yml"

// FlagStore persists one-shot feature flags to .tandem/flags.yml.
// Flags missing from the file fall back to the values of FlagsConfig.
type FlagStore struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// LoadFlags reads the flags file of rootDir, seeding missing flags from
// defaults. A missing file is not an error.
func LoadFlags(rootDir string, defaults FlagsConfig) (*FlagStore, error) {
	v := viper.New()

	dir := filepath.Join(rootDir, DirName)
	v.SetConfigName("flags")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetDefault(FlagDateMigration, defaults.DateMigration)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read flags file: %w", err)
		}
	}

	return &FlagStore{
		v:    v,
		path: filepath.Join(dir, FlagsFileName),
	}, nil
}

// IsFlagActive reports whether the named flag is set.
func (f *FlagStore) IsFlagActive(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.v.GetBool(name)
}

// SetFlag updates the named flag and writes the flags file.
func (f *FlagStore) SetFlag(name string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.v.IsSet(name) && f.v.GetBool(name) == active && f.fileExists() {
		return nil
	}
	f.v.Set(name, active)

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", DirName, err)
	}
	if err := f.v.WriteConfigAs(f.path); err != nil {
		return fmt.Errorf("failed to write flags file: %w", err)
	}
	return nil
}

func (f *FlagStore) fileExists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}
