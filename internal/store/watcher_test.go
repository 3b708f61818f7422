package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/tiwaz/internal/vault"
)

func watcherTestEnv(t *testing.T) (string, vault.Provider, *DB) {
	t.Helper()
	dir := t.TempDir()
	files, err := vault.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, files, testDB(t)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func writeRecord(t *testing.T, root, recordType, file, content string) {
	t.Helper()
	dir := filepath.Join(root, recordType)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSyncIndexesAndRemoves(t *testing.T) {
	root, files, db := watcherTestEnv(t)
	ctx := context.Background()
	writeRecord(t, root, "Customer", "CUST-1.md", "---\ncustomer_name: Acme\n---\n")
	writeRecord(t, root, "Customer", "CUST-2.md", "---\ncustomer_name: Globex\n---\n")
	writeRecord(t, root, "", "stray.md", "not a record")

	stats, err := Sync(ctx, db, files, quietLogger(), nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if stats.Indexed != 2 || stats.Skipped != 1 {
		t.Errorf("stats = %+v", stats)
	}

	_ = os.Remove(filepath.Join(root, "Customer", "CUST-2.md"))
	var events []string
	stats, err = Sync(ctx, db, files, quietLogger(), func(kind, recordType, name string) {
		events = append(events, kind+":"+recordType+"/"+name)
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if stats.Removed != 1 || len(events) != 1 || events[0] != "deleted:Customer/CUST-2" {
		t.Errorf("stats = %+v events = %v", stats, events)
	}
	if ok, _ := db.RecordExists(ctx, "Customer", "CUST-1"); !ok {
		t.Error("unchanged record should stay indexed")
	}
}

func TestWatcher_NewFileIndexed(t *testing.T) {
	root, files, db := watcherTestEnv(t)
	_ = os.MkdirAll(filepath.Join(root, "Customer"), 0o755)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string
	go Watch(ctx, db, files, root, quietLogger(), func(kind, recordType, name string) {
		mu.Lock()
		events = append(events, kind+":"+recordType+"/"+name)
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)

	writeRecord(t, root, "Customer", "CUST-9.md", "---\ncustomer_name: Initech\n---\n")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		ok, _ := db.RecordExists(context.Background(), "Customer", "CUST-9")
		return ok
	}, "new record file not indexed by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e == "created:Customer/CUST-9" || e == "updated:Customer/CUST-9" {
				return true
			}
		}
		return false
	}, "expected callback for Customer/CUST-9")
}

func TestWatcher_NewTypeDirWatched(t *testing.T) {
	root, files, db := watcherTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, db, files, root, quietLogger(), nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.MkdirAll(filepath.Join(root, "Project"), 0o755)
	time.Sleep(300 * time.Millisecond)
	writeRecord(t, root, "Project", "PROJ-1.md", "---\nproject_name: Move\n---\n")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		ok, _ := db.RecordExists(context.Background(), "Project", "PROJ-1")
		return ok
	}, "record in new type directory not indexed by watcher")
}

func TestWatcher_DeleteRemovesFromIndex(t *testing.T) {
	root, files, db := watcherTestEnv(t)
	writeRecord(t, root, "Task", "T-1.md", "---\nsubject: Call\n---\n")
	if _, err := Sync(context.Background(), db, files, quietLogger(), nil); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, db, files, root, quietLogger(), nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Remove(filepath.Join(root, "Task", "T-1.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		ok, _ := db.RecordExists(context.Background(), "Task", "T-1")
		return !ok
	}, "deleted record still in index")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	root, files, db := watcherTestEnv(t)
	writeRecord(t, root, "Task", "old.md", "---\nsubject: Rename\n---\n")
	if _, err := Sync(context.Background(), db, files, quietLogger(), nil); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, db, files, root, quietLogger(), nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Rename(filepath.Join(root, "Task", "old.md"), filepath.Join(root, "Task", "renamed.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		oldOK, _ := db.RecordExists(context.Background(), "Task", "old")
		newOK, _ := db.RecordExists(context.Background(), "Task", "renamed")
		return !oldOK && newOK
	}, "rename reconciliation failed")
}
