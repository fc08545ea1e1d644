package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// IDStore persists the player id between runs so a reconnecting client keeps its marble.
type IDStore interface {
	Load() (string, error)
	Save(id string) error
}

type FileIDStore struct {
	Path string
}

func (f FileIDStore) Load() (string, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (f FileIDStore) Save(id string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(f.Path, []byte(id+"\n"), 0o600)
}

// NewPlayerID returns the stored id, generating and saving one on first use. A nil store always
// yields a fresh id.
func NewPlayerID(store IDStore) (string, error) {
	if store == nil {
		return uuid.NewString(), nil
	}
	id, err := store.Load()
	if err != nil {
		return "", fmt.Errorf("load player id: %w", err)
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := store.Save(id); err != nil {
		return "", fmt.Errorf("save player id: %w", err)
	}
	return id, nil
}
