package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// ReadEnvFile returns the key/value pairs of a dotenv file. A missing file
// yields an empty map.
func ReadEnvFile(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return map[string]string{}, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return values, nil
}

// SaveAPIKey stores name=value in the dotenv file at path, keeping every
// other entry already present.
func SaveAPIKey(path, name, value string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultEnvFile
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("key name is required")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("key value is required")
	}

	values, err := ReadEnvFile(path)
	if err != nil {
		return err
	}
	values[name] = value
	content, err := godotenv.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode env file %s: %w", path, err)
	}
	return writePrivateFile(path, []byte(content+"\n"))
}

// writePrivateFile replaces path with data through a 0600 temp file in the
// same directory, so the old contents stay intact on failure.
func writePrivateFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create env file %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write env file %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync env file %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close env file %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace env file %s: %w", path, err)
	}
	return nil
}

func MapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

// LayeredLookup consults each lookup in order and returns the first hit.
func LayeredLookup(lookups ...LookupFunc) LookupFunc {
	return func(key string) (string, bool) {
		for _, lookup := range lookups {
			if lookup == nil {
				continue
			}
			if value, ok := lookup(key); ok {
				return value, true
			}
		}
		return "", false
	}
}
