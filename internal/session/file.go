package session

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/tatianab/storyframe/internal/apperrors"
	"github.com/tatianab/storyframe/internal/models"
)

// FileStore implements Store on a save directory, one folder per session:
// state.yaml holds the Record and history.yaml the ordered history log.
type FileStore struct {
	layout models.Layout
	leases *leases
	locks  keyedMutex
}

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.Storage("create save dir", err)
	}
	return &FileStore{
		layout: models.Layout{Root: dir},
		leases: newLeases(),
	}, nil
}

// Layout exposes the directory layout so assets can live beside the records.
func (s *FileStore) Layout() models.Layout {
	return s.layout
}

func (s *FileStore) Load(ctx context.Context, id string) (*Record, error) {
	if err := CheckID(id); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	return s.read(id)
}

func (s *FileStore) read(id string) (*Record, error) {
	var rec Record
	found, err := models.ReadYAML(s.layout.StatePath(id), &rec)
	if err != nil {
		return nil, apperrors.Storage("load state", err)
	}
	if !found {
		return newRecord(id), nil
	}
	rec.ID = id
	return &rec, nil
}

func (s *FileStore) Save(ctx context.Context, rec *Record) error {
	if err := CheckID(rec.ID); err != nil {
		return err
	}
	unlock := s.locks.lock(rec.ID)
	defer unlock()

	stored, err := s.read(rec.ID)
	if err != nil {
		return err
	}
	if stored.Version != rec.Version {
		return apperrors.Storage(fmt.Sprintf("save state for %s", rec.ID), ErrVersionConflict)
	}

	now := time.Now()
	next := *rec
	if stored.Version == 0 {
		next.CreatedAt = now
	}
	next.Version++
	next.UpdatedAt = now
	if err := models.WriteYAML(s.layout.StatePath(rec.ID), &next); err != nil {
		return apperrors.Storage("save state", err)
	}
	*rec = next
	return nil
}

func (s *FileStore) AppendHistory(ctx context.Context, id string, entry models.HistoryEntry) error {
	if err := CheckID(id); err != nil {
		return err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	var entries []models.HistoryEntry
	if _, err := models.ReadYAML(s.layout.HistoryPath(id), &entries); err != nil {
		return apperrors.Storage("load history", err)
	}
	entries = append(entries, entry)
	if err := models.WriteYAML(s.layout.HistoryPath(id), entries); err != nil {
		return apperrors.Storage("append history", err)
	}
	return nil
}

func (s *FileStore) History(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	if err := CheckID(id); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	var entries []models.HistoryEntry
	if _, err := models.ReadYAML(s.layout.HistoryPath(id), &entries); err != nil {
		return nil, apperrors.Storage("load history", err)
	}
	return entries, nil
}

func (s *FileStore) TruncateHistory(ctx context.Context, id string, fromTurn int) error {
	if err := CheckID(id); err != nil {
		return err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	var entries []models.HistoryEntry
	if _, err := models.ReadYAML(s.layout.HistoryPath(id), &entries); err != nil {
		return apperrors.Storage("load history", err)
	}
	kept := truncate(entries, fromTurn)
	if len(kept) == len(entries) {
		return nil
	}
	if err := models.WriteYAML(s.layout.HistoryPath(id), kept); err != nil {
		return apperrors.Storage("truncate history", err)
	}
	return nil
}

func (s *FileStore) Reset(ctx context.Context, id string) error {
	if err := CheckID(id); err != nil {
		return err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	for _, path := range []string{s.layout.StatePath(id), s.layout.HistoryPath(id)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return apperrors.Storage("reset session", err)
		}
	}
	return nil
}

func (s *FileStore) Acquire(ctx context.Context, id string) (func(), error) {
	if err := CheckID(id); err != nil {
		return nil, err
	}
	return s.leases.acquire(ctx, id)
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.layout.ListSessions()
	if err != nil {
		return nil, apperrors.Storage("list sessions", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) Close() error {
	return nil
}
