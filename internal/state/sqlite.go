package state

import (
	"context"
	"errors"
	"fmt"

	"logrelay/internal/database"
	"logrelay/internal/database/repositories"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// SQLiteStore keeps documents in the state_documents table.
type SQLiteStore struct {
	db   *gorm.DB
	repo repositories.DocumentRepository
}

func NewSQLiteStore(path string, logger *pterm.Logger) (*SQLiteStore, error) {
	db, err := database.NewConnection(database.DefaultConfig(path), logger)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, repo: repositories.NewDocumentRepository(db)}, nil
}

func (s *SQLiteStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	doc, err := s.repo.Get(key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return doc.Data, nil
}

func (s *SQLiteStore) Write(ctx context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := s.repo.Put(key, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.repo.Keys()
	if err != nil {
		return nil, err
	}
	return match(pattern, keys), nil
}

func (s *SQLiteStore) Close() error {
	return database.Close(s.db)
}
