// Package identity provides the per-tab identifier used to tag outgoing
// messages and filter self-originated echoes. It is an origin tag, never
// an ownership credential.
package identity

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreate returns the tab identifier persisted at path, generating
// and saving a fresh one on first use. If the file cannot be written the
// fresh id is still returned; every restart then looks like a new tab,
// which is an accepted degradation.
func LoadOrCreate(path string) string {
	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if _, err := uuid.Parse(id); err == nil {
			return id
		}
		log.Printf("IDENTITY: corrupt tab id at %s (generating new)", path)
	}

	id := uuid.NewString()

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			log.Printf("IDENTITY: cannot create %s: %v (using ephemeral id)", dir, err)
			return id
		}
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		log.Printf("IDENTITY: cannot persist tab id: %v (using ephemeral id)", err)
	}
	return id
}
