package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/models"
)

// UpsertRecord inserts or replaces a record indexed from the vault file at
// path. A different record previously stored under the same path is
// replaced.
func (db *DB) UpsertRecord(ctx context.Context, rec models.Record, path string) error {
	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("store: encode fields %s/%s: %w", rec.Type, rec.Name, err)
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE path = ? AND NOT (type = ? AND name = ?)`,
		path, rec.Type, rec.Name); err != nil {
		return fmt.Errorf("store: clear path %s: %w", path, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (type, name, path, checksum, fields, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(type, name) DO UPDATE SET
			path       = excluded.path,
			checksum   = excluded.checksum,
			fields     = excluded.fields,
			updated_at = excluded.updated_at
	`, rec.Type, rec.Name, path, rec.Checksum, string(fieldsJSON), updated)
	if err != nil {
		return fmt.Errorf("store: upsert record %s/%s: %w", rec.Type, rec.Name, err)
	}
	return tx.Commit()
}

// DeleteRecordByPath removes the record indexed from path and returns its
// identity. It returns apperr.ErrNotFound when nothing was indexed there.
func (db *DB) DeleteRecordByPath(ctx context.Context, path string) (models.Record, error) {
	var rec models.Record
	err := db.conn.QueryRowContext(ctx,
		`SELECT type, name FROM records WHERE path = ?`, path).Scan(&rec.Type, &rec.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, apperr.ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("store: lookup path %s: %w", path, err)
	}
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM records WHERE path = ?`, path); err != nil {
		return rec, fmt.Errorf("store: delete record %s: %w", path, err)
	}
	return rec, nil
}

// GetRecord returns one record or apperr.ErrNotFound.
func (db *DB) GetRecord(ctx context.Context, recordType, name string) (*models.Record, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT type, name, checksum, fields, updated_at
		FROM records WHERE type = ? AND name = ?`, recordType, name)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get record %s/%s: %w", recordType, name, err)
	}
	return rec, nil
}

// ListRecords returns every record of recordType ordered by name.
func (db *DB) ListRecords(ctx context.Context, recordType string) ([]models.Record, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT type, name, checksum, fields, updated_at
		FROM records WHERE type = ? ORDER BY name`, recordType)
	if err != nil {
		return nil, fmt.Errorf("store: list records %s: %w", recordType, err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// RecordExists reports whether a record is indexed.
func (db *DB) RecordExists(ctx context.Context, recordType, name string) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx,
		`SELECT 1 FROM records WHERE type = ? AND name = ?`, recordType, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: exists %s/%s: %w", recordType, name, err)
	}
	return true, nil
}

// RecordNames returns the names of every record of recordType.
func (db *DB) RecordNames(ctx context.Context, recordType string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT name FROM records WHERE type = ? ORDER BY name`, recordType)
	if err != nil {
		return nil, fmt.Errorf("store: record names %s: %w", recordType, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// AllChecksums returns path to checksum for every indexed record.
func (db *DB) AllChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path, checksum FROM records`)
	if err != nil {
		return nil, fmt.Errorf("store: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.Record, error) {
	var (
		rec    models.Record
		fields string
	)
	if err := s.Scan(&rec.Type, &rec.Name, &rec.Checksum, &fields, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of %s/%s: %w", rec.Type, rec.Name, err)
	}
	return &rec, nil
}
