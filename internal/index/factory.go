package index

import (
	"path/filepath"

	"healthq/internal/vectorstore"
)

// Factory creates and reopens indexes addressed by a key, usually the
// knowledge-base signature.
type Factory interface {
	Create(key string) (vectorstore.Index, error)
	// Open returns vectorstore.ErrIndexNotFound when nothing is stored under key.
	Open(key string) (vectorstore.Index, error)
}

type MemoryFactory struct{}

func (MemoryFactory) Create(string) (vectorstore.Index, error) {
	return vectorstore.NewMemoryIndex(), nil
}

func (MemoryFactory) Open(string) (vectorstore.Index, error) {
	return nil, vectorstore.ErrIndexNotFound
}

// SQLiteFactory keeps one database file per key under Dir.
type SQLiteFactory struct {
	Dir string
}

func (f SQLiteFactory) Create(key string) (vectorstore.Index, error) {
	return vectorstore.NewSQLiteIndex(f.path(key))
}

func (f SQLiteFactory) Open(key string) (vectorstore.Index, error) {
	return vectorstore.OpenSQLiteIndex(f.path(key))
}

func (f SQLiteFactory) path(key string) string {
	if key == "" {
		key = "default"
	}
	return filepath.Join(f.Dir, key+".db")
}
