package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrations(t *testing.T) {
	for _, tc := range []struct {
		fsys fs.FS
		dir  string
	}{{PostgresFS, "postgres"}, {ClickhouseFS, "clickhouse"}} {
		files, err := sqlFiles(tc.fsys, tc.dir)
		if err != nil {
			t.Fatalf("%s: %v", tc.dir, err)
		}
		if len(files) == 0 {
			t.Fatalf("%s: no migrations embedded", tc.dir)
		}
		for _, f := range files {
			data, err := fs.ReadFile(tc.fsys, f)
			if err != nil {
				t.Fatalf("read %s: %v", f, err)
			}
			if err := validateNoSemicolonInStrings(string(data)); err != nil {
				t.Errorf("%s: %v", f, err)
			}
		}
	}
}

func TestSplitStatements(t *testing.T) {
	in := `-- header; with a semicolon
CREATE TABLE a (x UInt8) ENGINE = Memory;

CREATE TABLE b (y String) ENGINE = Memory;
`
	stmts := splitStatements(in)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if !strings.HasPrefix(stmts[1], "CREATE TABLE b") {
		t.Errorf("unexpected second statement %q", stmts[1])
	}
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	if err := validateNoSemicolonInStrings("SELECT 'it''s'; SELECT 1;"); err != nil {
		t.Errorf("escaped quote: %v", err)
	}
	if err := validateNoSemicolonInStrings("SELECT 'a;b'"); err == nil {
		t.Error("expected error for semicolon in literal")
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/futarchy")
	if err != nil || db != "futarchy" {
		t.Fatalf("got %q, %v", db, err)
	}
	if _, err := databaseFromDSN("clickhouse://localhost:9000"); err == nil {
		t.Error("expected error for missing database")
	}
}
