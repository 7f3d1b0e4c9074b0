package kiosk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeviceIdentity names one kiosk. It is generated on first start and reused
// for the life of the installation.
type DeviceIdentity struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// LoadIdentity reads the identity cached at path, creating and persisting a new
// one when the file does not exist yet.
func LoadIdentity(path string, now func() time.Time) (DeviceIdentity, error) {
	if now == nil {
		now = time.Now
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var id DeviceIdentity
		if err := json.Unmarshal(data, &id); err != nil {
			return DeviceIdentity{}, fmt.Errorf("parse identity: %w", err)
		}
		if strings.TrimSpace(id.ID) == "" {
			return DeviceIdentity{}, fmt.Errorf("identity file %s has no id", path)
		}
		return id, nil
	case !errors.Is(err, fs.ErrNotExist):
		return DeviceIdentity{}, fmt.Errorf("read identity: %w", err)
	}

	id := DeviceIdentity{ID: "kiosk-" + uuid.NewString(), CreatedAt: now().UTC()}
	if err := writeJSON(path, id); err != nil {
		return DeviceIdentity{}, fmt.Errorf("persist identity: %w", err)
	}
	return id, nil
}

// writeJSON replaces path atomically with the JSON encoding of v.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
