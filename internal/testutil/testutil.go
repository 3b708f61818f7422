// Package testutil provides shared test helpers for setting up record vaults
// and databases.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/starford/tiwaz/internal/models"
	"github.com/starford/tiwaz/internal/store"
	"github.com/starford/tiwaz/internal/vault"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "tiwaz-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary record vault.
func TestVault(t *testing.T) (string, *vault.FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := vault.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, fs
}

// SeedRecords indexes recs directly, bypassing the vault.
func SeedRecords(t *testing.T, db *store.DB, recs ...models.Record) {
	t.Helper()
	for _, r := range recs {
		if err := db.UpsertRecord(context.Background(), r, vault.RecordPath(r.Type, r.Name)); err != nil {
			t.Fatalf("seed %s/%s: %v", r.Type, r.Name, err)
		}
	}
}

// Rec builds a record from alternating field name / value pairs.
func Rec(recordType, name string, kv ...any) models.Record {
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i].(string)] = kv[i+1]
	}
	return models.Record{Type: recordType, Name: name, Fields: fields}
}

// SalesTypes is a small record type catalogue used across tests.
func SalesTypes() []models.RecordType {
	return []models.RecordType{
		{
			Name:         "Customer",
			TitleField:   "customer_name",
			SearchFields: []string{"customer_group", "territory"},
			NamingSeries: "CUST-.#####",
			Fields: []models.Field{
				{Name: "customer_name", Type: models.FieldData},
				{Name: "customer_group", Type: models.FieldLink},
				{Name: "territory", Type: models.FieldLink},
				{Name: "description", Type: models.FieldText},
				{Name: "contacts", Type: models.FieldTable},
			},
		},
		{
			Name:         "Sales Order",
			TitleField:   "title",
			SearchFields: []string{"customer"},
			NamingSeries: "SAL-ORD-.YYYY.-",
			Fields: []models.Field{
				{Name: "title", Type: models.FieldData},
				{Name: "customer", Type: models.FieldLink},
				{Name: "status", Type: models.FieldSelect},
				{Name: "grand_total", Type: models.FieldFloat},
			},
		},
		{
			Name:         "Project",
			TitleField:   "project_name",
			NamingSeries: "PROJ-.####",
			Fields: []models.Field{
				{Name: "project_name", Type: models.FieldData},
				{Name: "status", Type: models.FieldSelect},
				{Name: "notes", Type: models.FieldLongText},
			},
		},
	}
}
