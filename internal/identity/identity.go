// Package identity provides anonymous per-device identity primitives.
// The id is generated once, persisted to disk, and carried in the init
// handshake and every outbound envelope.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// Generate returns a fresh anonymous id.
func Generate() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// Valid reports whether id matches the anonymous id format.
func Valid(id string) bool {
	return anonIDPattern.MatchString(id)
}

// LoadOrCreate reads the persisted identity from path, generating and
// persisting a new one when the file is missing or corrupt.
func LoadOrCreate(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if Valid(id) {
			return id, nil
		}
	}

	id, err := Generate()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create identity directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist identity: %w", err)
	}
	return id, nil
}
