// Package util holds the small shared helpers that have no better home.
package util

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DialTimeout bounds outbound connection attempts (bridge dial,
	// pubsub bootstrap).
	DialTimeout = 3 * time.Second

	// ShutdownTimeout bounds the graceful teardown of servers and the
	// departure broadcast.
	ShutdownTimeout = 2 * time.Second
)

// WriteJSONFile writes v as indented JSON, creating parent directories
// as needed.
func WriteJSONFile(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
