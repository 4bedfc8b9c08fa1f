package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/provenlab/provex/internal/provex/config"
	"github.com/provenlab/provex/internal/provex/core"
)

func testBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	ctx := context.Background()
	backend, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening backend: %v", err)
	}
	t.Cleanup(func() { backend.Close(ctx) })
	return backend
}

func testNode(uuid string) *core.Node {
	now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	return &core.Node{
		UUID:       uuid,
		Type:       "data.int",
		Label:      "n",
		CTime:      now,
		MTime:      now,
		Attributes: map[string]any{"value": float64(7)},
		Extras:     map[string]any{"tag": "test"},
		UserEmail:  "alice@lab.net",
	}
}

func TestNodeCRUD(t *testing.T) {
	ctx := context.Background()
	backend := testBackend(t)
	nodes := backend.Nodes()

	node := testNode("n-1")
	if err := nodes.Create(ctx, node); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if node.ID == 0 {
		t.Error("Create did not fill in the store-local id")
	}

	got, err := nodes.Get(ctx, "n-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UUID != "n-1" || got.Type != "data.int" || got.Label != "n" {
		t.Errorf("Get = %+v", got)
	}
	if got.Attributes["value"] != float64(7) {
		t.Errorf("attributes = %v", got.Attributes)
	}
	if !got.CTime.Equal(node.CTime) {
		t.Errorf("ctime = %v, want %v", got.CTime, node.CTime)
	}

	exists, err := nodes.Exists(ctx, "n-1")
	if err != nil || !exists {
		t.Errorf("Exists(n-1) = %v, %v", exists, err)
	}
	exists, err = nodes.Exists(ctx, "n-2")
	if err != nil || exists {
		t.Errorf("Exists(n-2) = %v, %v", exists, err)
	}

	if _, err := nodes.Get(ctx, "n-2"); !core.IsNotFound(err) {
		t.Errorf("Get(n-2) = %v, want not-found", err)
	}

	count, err := nodes.Count(ctx)
	if err != nil || count != 1 {
		t.Errorf("Count = %d, %v", count, err)
	}
}

func TestNodeExtras(t *testing.T) {
	ctx := context.Background()
	backend := testBackend(t)
	nodes := backend.Nodes()

	if err := nodes.Create(ctx, testNode("n-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	extras, err := nodes.GetExtras(ctx, "n-1")
	if err != nil {
		t.Fatalf("GetExtras: %v", err)
	}
	if extras["tag"] != "test" {
		t.Errorf("extras = %v", extras)
	}

	if err := nodes.SetExtras(ctx, "n-1", map[string]any{"tag": "updated"}); err != nil {
		t.Fatalf("SetExtras: %v", err)
	}
	extras, err = nodes.GetExtras(ctx, "n-1")
	if err != nil {
		t.Fatalf("GetExtras: %v", err)
	}
	if extras["tag"] != "updated" {
		t.Errorf("extras after update = %v", extras)
	}

	if err := nodes.SetExtras(ctx, "n-missing", nil); !core.IsNotFound(err) {
		t.Errorf("SetExtras on missing node = %v, want not-found", err)
	}
	if _, err := nodes.GetExtras(ctx, "n-missing"); !core.IsNotFound(err) {
		t.Errorf("GetExtras on missing node = %v, want not-found", err)
	}
}

func TestLinks(t *testing.T) {
	ctx := context.Background()
	backend := testBackend(t)

	for _, uuid := range []string{"n-a", "n-b", "n-c"} {
		if err := backend.Nodes().Create(ctx, testNode(uuid)); err != nil {
			t.Fatalf("creating node %s: %v", uuid, err)
		}
	}

	links := backend.Links()
	ab := &core.Link{Source: "n-a", Target: "n-b", Type: core.LinkInput, Label: "x"}
	bc := &core.Link{Source: "n-b", Target: "n-c", Type: core.LinkCreate, Label: "y"}
	for _, link := range []*core.Link{ab, bc} {
		if err := links.Create(ctx, link); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	if err := links.Create(ctx, &core.Link{Source: "n-a", Target: "n-b", Type: "bogus"}); err == nil {
		t.Error("Create accepted an invalid link type")
	}

	exists, err := links.Exists(ctx, ab)
	if err != nil || !exists {
		t.Errorf("Exists(a->b) = %v, %v", exists, err)
	}
	// Same endpoints, different label: a distinct link.
	other := &core.Link{Source: "n-a", Target: "n-b", Type: core.LinkInput, Label: "z"}
	exists, err = links.Exists(ctx, other)
	if err != nil || exists {
		t.Errorf("Exists(a->b label z) = %v, %v", exists, err)
	}

	from, err := links.ListFrom(ctx, "n-b")
	if err != nil || len(from) != 1 || from[0].Target != "n-c" {
		t.Errorf("ListFrom(n-b) = %v, %v", from, err)
	}
	to, err := links.ListTo(ctx, "n-b")
	if err != nil || len(to) != 1 || to[0].Source != "n-a" {
		t.Errorf("ListTo(n-b) = %v, %v", to, err)
	}

	count, err := links.Count(ctx)
	if err != nil || count != 2 {
		t.Errorf("Count = %d, %v", count, err)
	}
}

func TestComments(t *testing.T) {
	ctx := context.Background()
	backend := testBackend(t)
	if err := backend.Nodes().Create(ctx, testNode("n-1")); err != nil {
		t.Fatalf("creating node: %v", err)
	}

	comments := backend.Comments()
	now := time.Date(2025, 6, 1, 9, 30, 0, 123456789, time.UTC)
	comment := &core.Comment{
		UUID: "c-1", NodeUUID: "n-1",
		CTime: now, MTime: now,
		Content: "first", UserEmail: "alice@lab.net",
	}
	if err := comments.Create(ctx, comment); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := comments.Get(ctx, "c-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// Sub-second precision must survive storage; the newest-wins
	// comparison depends on it.
	if !got.MTime.Equal(now) {
		t.Errorf("mtime = %v, want %v", got.MTime, now)
	}

	comment.Content = "second"
	comment.MTime = now.Add(time.Minute)
	if err := comments.Replace(ctx, comment); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	got, err = comments.Get(ctx, "c-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "second" {
		t.Errorf("content after replace = %q", got.Content)
	}

	if err := comments.Replace(ctx, &core.Comment{UUID: "c-missing", NodeUUID: "n-1"}); !core.IsNotFound(err) {
		t.Errorf("Replace on missing comment = %v, want not-found", err)
	}

	list, err := comments.ListForNode(ctx, "n-1")
	if err != nil || len(list) != 1 {
		t.Errorf("ListForNode = %v, %v", list, err)
	}
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	backend := testBackend(t)
	users := backend.Users()

	user := users.Create("alice@lab.net", "Alice", "Ng", "Lab")
	if user.ID != 0 {
		t.Error("Create must not persist the user")
	}
	found, err := users.Find(ctx, UserFilter{Email: "alice@lab.net"})
	if err != nil || len(found) != 0 {
		t.Errorf("Find before Store = %v, %v", found, err)
	}

	if err := users.Store(ctx, user); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if user.ID == 0 {
		t.Error("Store did not fill in the id")
	}

	found, err = users.Find(ctx, UserFilter{Email: "alice@lab.net"})
	if err != nil || len(found) != 1 {
		t.Fatalf("Find by email = %v, %v", found, err)
	}
	if found[0].FirstName != "Alice" || found[0].Institution != "Lab" {
		t.Errorf("Find = %+v", found[0])
	}

	byID, err := users.Find(ctx, UserFilter{ID: found[0].ID})
	if err != nil || len(byID) != 1 || byID[0].Email != "alice@lab.net" {
		t.Errorf("Find by id = %v, %v", byID, err)
	}

	// Storing again with the same email updates in place.
	update := users.Create("alice@lab.net", "Alicia", "Ng", "Lab")
	if err := users.Store(ctx, update); err != nil {
		t.Fatalf("Store (update): %v", err)
	}
	found, err = users.Find(ctx, UserFilter{Email: "alice@lab.net"})
	if err != nil || len(found) != 1 {
		t.Fatalf("Find after update = %v, %v", found, err)
	}
	if found[0].FirstName != "Alicia" {
		t.Errorf("first name after update = %q", found[0].FirstName)
	}
}

func seedLogs(t *testing.T, backend *SQLiteBackend) {
	t.Helper()
	ctx := context.Background()
	if err := backend.Nodes().Create(ctx, testNode("n-1")); err != nil {
		t.Fatalf("creating node: %v", err)
	}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []*core.LogEntry{
		{UUID: "l-1", Time: base, LoggerName: "scheduler", LevelName: "INFO", NodeUUID: "n-1", Message: "queued"},
		{UUID: "l-2", Time: base.Add(time.Hour), LoggerName: "scheduler", LevelName: "INFO", NodeUUID: "n-1", Message: "running"},
		{UUID: "l-3", Time: base.Add(2 * time.Hour), LoggerName: "parser", LevelName: "WARNING", NodeUUID: "n-1", Message: "odd output"},
	}
	for _, entry := range entries {
		if err := backend.Logs().Create(ctx, entry); err != nil {
			t.Fatalf("creating log entry: %v", err)
		}
	}
}

func TestLogsDeleteMany(t *testing.T) {
	ctx := context.Background()
	backend := testBackend(t)
	seedLogs(t, backend)
	logs := backend.Logs()

	// An unconstrained filter must be rejected before touching rows.
	if _, err := logs.DeleteMany(ctx, LogFilter{}); !errors.Is(err, core.ErrEmptyFilter) {
		t.Fatalf("DeleteMany(empty) = %v, want ErrEmptyFilter", err)
	}
	remaining, err := logs.List(ctx)
	if err != nil || len(remaining) != 3 {
		t.Fatalf("rows touched by rejected delete: %v, %v", remaining, err)
	}

	ids, err := logs.DeleteMany(ctx, LogFilter{LoggerName: "scheduler"})
	if err != nil {
		t.Fatalf("DeleteMany: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("deleted %d entries, want 2", len(ids))
	}
	remaining, err = logs.List(ctx)
	if err != nil || len(remaining) != 1 || remaining[0].LoggerName != "parser" {
		t.Errorf("remaining = %v, %v", remaining, err)
	}
}

func TestLogsDeleteManyBefore(t *testing.T) {
	ctx := context.Background()
	backend := testBackend(t)
	seedLogs(t, backend)

	cutoff := time.Date(2025, 6, 1, 13, 30, 0, 0, time.UTC)
	ids, err := backend.Logs().DeleteMany(ctx, LogFilter{Before: cutoff})
	if err != nil {
		t.Fatalf("DeleteMany: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("deleted %d entries, want 2", len(ids))
	}
}

func TestLogsDeleteAll(t *testing.T) {
	ctx := context.Background()
	backend := testBackend(t)
	seedLogs(t, backend)

	n, err := backend.Logs().DeleteAll(ctx)
	if err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if n != 3 {
		t.Errorf("DeleteAll removed %d entries, want 3", n)
	}
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	backend := testBackend(t)

	err := backend.InTransaction(ctx, func(tx Tx) error {
		if err := tx.Nodes().Create(ctx, testNode("n-1")); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	if err == nil {
		t.Fatal("expected transaction to fail")
	}

	count, err := backend.Nodes().Count(ctx)
	if err != nil || count != 0 {
		t.Errorf("count after rollback = %d, %v", count, err)
	}
}

func TestSavepointIsolation(t *testing.T) {
	ctx := context.Background()
	backend := testBackend(t)

	// A failing savepoint rolls back only its own work; the enclosing
	// transaction commits the rest.
	err := backend.InTransaction(ctx, func(tx Tx) error {
		if err := tx.Savepoint(ctx, "sp_ok", func() error {
			return tx.Nodes().Create(ctx, testNode("n-kept"))
		}); err != nil {
			return err
		}
		spErr := tx.Savepoint(ctx, "sp_fail", func() error {
			if err := tx.Nodes().Create(ctx, testNode("n-discarded")); err != nil {
				return err
			}
			return fmt.Errorf("boom")
		})
		if spErr == nil {
			return fmt.Errorf("expected savepoint to fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTransaction: %v", err)
	}

	exists, err := backend.Nodes().Exists(ctx, "n-kept")
	if err != nil || !exists {
		t.Errorf("n-kept missing after commit: %v, %v", exists, err)
	}
	exists, err = backend.Nodes().Exists(ctx, "n-discarded")
	if err != nil || exists {
		t.Errorf("n-discarded survived its rollback: %v, %v", exists, err)
	}
}

func TestSavepointNameValidation(t *testing.T) {
	ctx := context.Background()
	backend := testBackend(t)

	err := backend.InTransaction(ctx, func(tx Tx) error {
		if err := tx.Savepoint(ctx, `bad"name`, func() error { return nil }); err == nil {
			return fmt.Errorf("expected invalid savepoint name to be rejected")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTransaction: %v", err)
	}
}

func TestDropStorage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "drop.db")
	backend, err := NewSQLite(ctx, path)
	if err != nil {
		t.Fatalf("opening backend: %v", err)
	}
	if err := backend.Nodes().Create(ctx, testNode("n-1")); err != nil {
		t.Fatalf("creating node: %v", err)
	}

	if err := backend.DropStorage(ctx); err != nil {
		t.Fatalf("DropStorage: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("database file still present after drop: %v", err)
	}
}

func TestOpenDispatch(t *testing.T) {
	ctx := context.Background()

	backend, err := Open(ctx, config.Profile{
		Engine: EngineSQLite,
		Path:   filepath.Join(t.TempDir(), "open.db"),
	})
	if err != nil {
		t.Fatalf("Open(sqlite): %v", err)
	}
	if backend.Name() != EngineSQLite {
		t.Errorf("Name = %q, want %q", backend.Name(), EngineSQLite)
	}
	backend.Close(ctx)

	if _, err := Open(ctx, config.Profile{Engine: "postgres"}); !errors.Is(err, core.ErrUnknownBackend) {
		t.Errorf("Open(postgres) = %v, want ErrUnknownBackend", err)
	}
}
