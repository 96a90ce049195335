package db

import (
	"path/filepath"
	"testing"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/db/models"
)

func TestIsPostgres(t *testing.T) {
	tests := []struct {
		dsn  string
		want bool
	}{
		{"postgres://u:p@localhost/app", true},
		{"POSTGRESQL://localhost/app", true},
		{"artist.db", false},
		{"file::memory:", false},
	}
	for _, tt := range tests {
		if got := IsPostgres(tt.dsn); got != tt.want {
			t.Fatalf("IsPostgres(%q) = %v, want %v", tt.dsn, got, tt.want)
		}
	}
}

func TestInitDB_SQLiteMigratesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artist.db")
	gdb, err := InitDB(path, Options{})
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	defer func() {
		if err := Close(gdb); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	for _, m := range models.All() {
		if !gdb.Migrator().HasTable(m) {
			t.Fatalf("expected table for %T", m)
		}
	}
	if !gdb.Migrator().HasIndex(&models.Grant{}, "idx_grant_user_provider") {
		t.Fatalf("expected unique (user_id, provider) index on grants")
	}
}

func TestClose_ReleasesConnection(t *testing.T) {
	gdb, err := InitDB(filepath.Join(t.TempDir(), "artist.db"), Options{})
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	if err := Close(gdb); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("DB: %v", err)
	}
	if err := sqlDB.Ping(); err == nil {
		t.Fatalf("expected ping on a closed database to fail")
	}
}
