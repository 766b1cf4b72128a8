package migrate

import (
	"context"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var fixedNow = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func expectBookkeeping(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	src := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("create table b (id text);")},
		"0001_a.up.sql":   {Data: []byte("create table a (id text);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
		"0003_c.up.sql":   {Data: []byte("create table c (id text); create index c_idx on c (id);")},
	}

	expectBookkeeping(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").WithArgs("0002_b.up.sql", fixedNow).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectBegin()
	mock.ExpectExec("create table c").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index c_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").WithArgs("0003_c.up.sql", fixedNow).WillReturnResult(sqlmock.NewResult(1, 1))

	m := NewManager(db, src, nil, WithClock(func() time.Time { return fixedNow }))
	applied, err := m.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 2 || applied[0] != "0002_b.up.sql" || applied[1] != "0003_c.up.sql" {
		t.Fatalf("unexpected applied list: %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	src := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (id text);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
	}
	expectBookkeeping(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations").WithArgs("0001_a.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))

	name, err := NewManager(db, src, nil).Down(context.Background())
	if err != nil || name != "0001_a.up.sql" {
		t.Fatalf("Down = %q, %v", name, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSplitStatementsKeepsDollarBodies(t *testing.T) {
	sql := `create table t (v text default 'a;b');
create function f() returns trigger language plpgsql as $$
begin
    raise exception 'no; really';
end
$$;
create trigger x before delete on t for each row execute function f();`
	stmts := splitStatements(sql)
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(stmts), stmts)
	}
}

func TestEmbeddedSchemaIsComplete(t *testing.T) {
	ups, err := collectSQL(Migrations(), ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if len(ups) == 0 {
		t.Fatalf("no embedded migrations")
	}
	for _, up := range ups {
		down := up[:len(up)-len(".up.sql")] + ".down.sql"
		if _, err := fs.Stat(Migrations(), down); err != nil {
			t.Fatalf("missing %s", down)
		}
	}
	seeds, err := collectSQL(Seeds(), ".sql")
	if err != nil || len(seeds) == 0 {
		t.Fatalf("seeds = %v, %v", seeds, err)
	}
}
