package todo

import (
	"context"
	stdErrors "errors"
	"path/filepath"
	"reflect"
	"testing"
	"testing/fstest"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "tasks.db")
	store, err := NewSQLStore(context.Background(), SQLConfig{Driver: DriverSQLite, DSN: dsn})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLStoreCRUD(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	user := uuid.New()

	task := &Task{ID: uuid.New(), UserID: user, Title: "Buy milk", Description: "2 litres", Priority: PriorityHigh}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, task); !stdErrors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Buy milk" || got.UserID != user || got.Priority != PriorityHigh || got.IsCompleted {
		t.Fatalf("unexpected task: %+v", got)
	}
	if !got.CreatedAt.Equal(task.CreatedAt) {
		t.Fatalf("created_at not preserved: %v vs %v", got.CreatedAt, task.CreatedAt)
	}

	got.IsCompleted = true
	got.Title = "Buy oat milk"
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	updated, _ := store.Get(ctx, task.ID)
	if !updated.IsCompleted || updated.Title != "Buy oat milk" {
		t.Fatalf("update not persisted: %+v", updated)
	}

	if err := store.Delete(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, task.ID); !stdErrors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Delete(ctx, task.ID); !stdErrors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if err := store.Update(ctx, got); !stdErrors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found on update of deleted task, got %v", err)
	}
}

func TestSQLStoreListAndFind(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tasks := []*Task{
		{ID: uuid.New(), UserID: alice, Title: "Buy milk", Priority: PriorityHigh, CreatedAt: base},
		{ID: uuid.New(), UserID: alice, Title: "Call mom", Description: "about MILK", Priority: PriorityLow, IsCompleted: true, CreatedAt: base.Add(time.Minute)},
		{ID: uuid.New(), UserID: alice, Title: "Buy milk", Priority: PriorityLow, CreatedAt: base.Add(2 * time.Minute)},
		{ID: uuid.New(), UserID: bob, Title: "Buy milk", Priority: PriorityMedium, CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, task := range tasks {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	all, err := store.List(ctx, ListOptions{UserID: alice})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != tasks[2].ID {
		t.Fatalf("unexpected list order: %+v", all)
	}

	completed, err := store.List(ctx, ListOptions{UserID: alice, Status: StatusCompleted})
	if err != nil || len(completed) != 1 || completed[0].ID != tasks[1].ID {
		t.Fatalf("unexpected completed list: %v %+v", err, completed)
	}
	pending, err := store.List(ctx, ListOptions{UserID: alice, Status: StatusPending, Limit: 1})
	if err != nil || len(pending) != 1 || pending[0].ID != tasks[2].ID {
		t.Fatalf("unexpected pending list: %v %+v", err, pending)
	}

	searched, err := store.List(ctx, ListOptions{UserID: alice, Query: "milk"})
	if err != nil || len(searched) != 3 {
		t.Fatalf("search should be case-insensitive over title and description: %v %+v", err, searched)
	}

	found, err := store.FindByTitle(ctx, alice, "Buy milk")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 2 || found[0].ID != tasks[2].ID {
		t.Fatalf("expected newest first: %+v", found)
	}
	everyone, err := store.FindByTitle(ctx, uuid.Nil, "Buy milk")
	if err != nil || len(everyone) != 3 {
		t.Fatalf("unscoped find: %v %+v", err, everyone)
	}
}

func TestSearchTreatsWildcardsLiterally(t *testing.T) {
	stores := map[string]Store{
		"sqlite": newSQLiteStore(t),
		"memory": NewMemoryStore(),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user := uuid.New()
			for _, title := range []string{"abc", "Pay rent", "50% off", "a_c", "x!y"} {
				if err := store.Create(ctx, &Task{ID: uuid.New(), UserID: user, Title: title, Priority: PriorityMedium, CreatedAt: time.Now().UTC()}); err != nil {
					t.Fatalf("create %q: %v", title, err)
				}
			}

			cases := map[string]string{
				"%":   "50% off",
				"a_c": "a_c",
				"A_C": "a_c",
				"x!y": "x!y",
			}
			for query, want := range cases {
				got, err := store.List(ctx, ListOptions{UserID: user, Query: query})
				if err != nil {
					t.Fatalf("search %q: %v", query, err)
				}
				if len(got) != 1 || got[0].Title != want {
					t.Fatalf("search %q should only match %q, got %+v", query, want, got)
				}
			}
		})
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`100%_a!b`); got != `100!%!_a!!b` {
		t.Fatalf("unexpected escaped pattern: %s", got)
	}
}

func TestSQLStoreMigrationsAreIdempotent(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	if err := migrateSchema(ctx, store.db, DriverSQLite, embeddedMigrations); err != nil {
		t.Fatalf("second migration run: %v", err)
	}

	// 索引已存在时，SQLite 方言会改写为 IF NOT EXISTS。
	if _, err := store.db.Exec(`CREATE INDEX idx_todo_tasks_updated ON todo_tasks (updated_at)`); err != nil {
		t.Fatalf("create index: %v", err)
	}
	extra := fstest.MapFS{
		"0002_add_index.sql":        {Data: []byte("-- updated_at; used by sorting\nCREATE INDEX idx_todo_tasks_updated ON todo_tasks (updated_at);")},
		"0003_mysql_only.mysql.sql": {Data: []byte("ALTER TABLE todo_tasks ENGINE=InnoDB;")},
		"README.md":                 {Data: []byte("ignored")},
	}
	if err := migrateSchema(ctx, store.db, DriverSQLite, extra); err != nil {
		t.Fatalf("extra migration: %v", err)
	}

	rows, err := store.db.Query(`SELECT version, name FROM todo_schema_migrations ORDER BY version`)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	defer rows.Close()
	var got []string
	for rows.Next() {
		var version, name string
		if err := rows.Scan(&version, &name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, version+" "+name)
	}
	want := []string{"0001 0001_create_todo_tasks.sql", "0002 0002_add_index.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected ledger %v", got)
	}
}

func TestPlanMigrationsByDialect(t *testing.T) {
	files := fstest.MapFS{
		"0001_base.sql":         {Data: []byte("CREATE TABLE a (id INT);")},
		"0002_index.sql":        {Data: []byte("CREATE INDEX i ON a (id);")},
		"0002_index.mysql.sql":  {Data: []byte("CREATE INDEX i ON a (id) USING BTREE;")},
		"0003_engine.mysql.sql": {Data: []byte("ALTER TABLE a ENGINE=InnoDB;")},
		"0004_empty.sql":        {Data: []byte("-- nothing\n")},
	}
	names := func(driver string) []string {
		plan, err := planMigrations(files, driver)
		if err != nil {
			t.Fatalf("plan %s: %v", driver, err)
		}
		out := make([]string, 0, len(plan))
		for _, m := range plan {
			out = append(out, m.name)
		}
		return out
	}

	if got := names(DriverSQLite); !reflect.DeepEqual(got, []string{"0001_base.sql", "0002_index.sql"}) {
		t.Fatalf("unexpected sqlite plan: %v", got)
	}
	if got := names(DriverMySQL); !reflect.DeepEqual(got, []string{"0001_base.sql", "0002_index.mysql.sql", "0003_engine.mysql.sql"}) {
		t.Fatalf("unexpected mysql plan: %v", got)
	}

	files["0001_other.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE b (id INT);")}
	if _, err := planMigrations(files, DriverSQLite); err == nil {
		t.Fatalf("duplicate shared versions should be rejected")
	}
}

func TestSchemaDialect(t *testing.T) {
	sqlite, my := dialectFor(DriverSQLite), dialectFor(DriverMySQL)
	if got := sqlite.prepare("CREATE INDEX i ON a (id)"); got != "CREATE INDEX IF NOT EXISTS i ON a (id)" {
		t.Fatalf("unexpected sqlite statement: %s", got)
	}
	if got := sqlite.prepare("create unique index u ON a (id)"); got != "create unique index IF NOT EXISTS u ON a (id)" {
		t.Fatalf("unexpected sqlite statement: %s", got)
	}
	if got := my.prepare("CREATE INDEX i ON a (id)"); got != "CREATE INDEX i ON a (id)" {
		t.Fatalf("mysql statements should be unchanged: %s", got)
	}
	if !my.alreadyApplied(&mysql.MySQLError{Number: 1061}) || !my.alreadyApplied(&mysql.MySQLError{Number: 1050}) {
		t.Fatalf("existing objects should count as applied on mysql")
	}
	if my.alreadyApplied(&mysql.MySQLError{Number: 1062}) || sqlite.alreadyApplied(&mysql.MySQLError{Number: 1061}) {
		t.Fatalf("only mysql object-exists errors are tolerated")
	}
	if !sqlite.transactionalDDL || my.transactionalDDL {
		t.Fatalf("unexpected transactional DDL flags")
	}
}

func TestNewSQLStoreValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := NewSQLStore(ctx, SQLConfig{Driver: "postgres", DSN: "x"}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	if _, err := NewSQLStore(ctx, SQLConfig{Driver: DriverMySQL}); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestIsDuplicateKey(t *testing.T) {
	if !isDuplicateKey(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}) {
		t.Fatalf("mysql 1062 should be a duplicate key")
	}
	if isDuplicateKey(&mysql.MySQLError{Number: 1146}) {
		t.Fatalf("mysql 1146 is not a duplicate key")
	}
	if isDuplicateKey(stdErrors.New("boom")) {
		t.Fatalf("plain errors are not duplicate keys")
	}
}

func TestSplitStatements(t *testing.T) {
	script := "CREATE TABLE a (note VARCHAR(8) DEFAULT ';');\n-- comment; with semicolon\n\n  ;CREATE INDEX i ON a (id);  "
	got := splitStatements(script)
	if len(got) != 2 || got[0] != "CREATE TABLE a (note VARCHAR(8) DEFAULT ';')" || got[1] != "CREATE INDEX i ON a (id)" {
		t.Fatalf("unexpected statements: %q", got)
	}
	if v, d := parseMigrationName("0007_add_column.sql"); v != "0007" || d != "" {
		t.Fatalf("unexpected version %q %q", v, d)
	}
	if v, d := parseMigrationName("0008_engine.mysql.sql"); v != "0008" || d != DriverMySQL {
		t.Fatalf("unexpected version %q %q", v, d)
	}
}
