package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/recordfile"
	"github.com/starford/tiwaz/internal/vault"
)

// Event kinds passed to EventCallback.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// EventCallback is called after a vault-driven index change.
type EventCallback func(kind, recordType, name string)

// SyncStats summarises one Sync pass.
type SyncStats struct {
	Indexed int `json:"indexed"`
	Removed int `json:"removed"`
	Skipped int `json:"skipped"`
}

// Sync walks the vault and brings the record index up to date:
//   - new/changed record files are parsed and upserted
//   - records whose file is gone are deleted from the index
func Sync(ctx context.Context, db *DB, files vault.Provider, logger *slog.Logger, cb EventCallback) (SyncStats, error) {
	var stats SyncStats
	metas, err := files.List("")
	if err != nil {
		return stats, err
	}

	checksums, err := db.AllChecksums(ctx)
	if err != nil {
		return stats, err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		old, known := checksums[m.Path]
		if known && old == m.Checksum {
			continue
		}

		data, err := files.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			stats.Skipped++
			continue
		}
		recordType, name, err := indexFile(ctx, db, m.Path, data)
		if err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			stats.Skipped++
			continue
		}
		stats.Indexed++
		logger.Debug("sync: indexed", slog.String("path", m.Path))
		if cb != nil {
			kind := EventUpdated
			if !known {
				kind = EventCreated
			}
			cb(kind, recordType, name)
		}
	}

	for p := range checksums {
		if _, ok := disk[p]; ok {
			continue
		}
		rec, err := db.DeleteRecordByPath(ctx, p)
		if err != nil {
			if !errors.Is(err, apperr.ErrNotFound) {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			}
			continue
		}
		stats.Removed++
		logger.Debug("sync: removed stale", slog.String("path", p))
		if cb != nil {
			cb(EventDeleted, rec.Type, rec.Name)
		}
	}

	return stats, nil
}

// indexFile parses the record file at path and upserts it.
func indexFile(ctx context.Context, db *DB, path string, data []byte) (recordType, name string, err error) {
	recordType, name, err = vault.ParsePath(path)
	if err != nil {
		return "", "", err
	}
	rec, err := recordfile.ToRecord(recordType, name, data)
	if err != nil {
		return "", "", err
	}
	rec.Checksum = vault.Checksum(data)
	return recordType, name, db.UpsertRecord(ctx, rec, path)
}
