package migrate

import (
	"strings"
	"testing"
	"time"
)

func TestParseFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion int
		wantName    string
		wantErr     bool
	}{
		{"001_initial_schema.sql", 1, "initial_schema", false},
		{"002_metrics_hypertable.sql", 2, "metrics_hypertable", false},
		{"100_name_with_underscores.sql", 100, "name_with_underscores", false},
		{"invalid.sql", 0, "", true},
		{"abc_name.sql", 0, "", true},
		{"001_.sql", 0, "", true},
		{"001.sql", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, err := parseFilename(tt.filename)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %s, got nil", tt.filename)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %s: %v", tt.filename, err)
			}
			if version != tt.wantVersion {
				t.Errorf("version: got %d, want %d", version, tt.wantVersion)
			}
			if name != tt.wantName {
				t.Errorf("name: got %s, want %s", name, tt.wantName)
			}
		})
	}
}

func TestAvailableMigrations(t *testing.T) {
	migrations, err := availableMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) < 2 {
		t.Fatalf("expected at least two migrations, got %d", len(migrations))
	}
	if migrations[0].version != 1 {
		t.Errorf("first migration version: got %d, want 1", migrations[0].version)
	}
	for i, m := range migrations {
		if i > 0 && m.version <= migrations[i-1].version {
			t.Errorf("migrations not sorted: %d comes after %d", m.version, migrations[i-1].version)
		}
		if m.sql == "" {
			t.Errorf("migration %s has empty SQL", m.label())
		}
		if m.checksum == "" {
			t.Errorf("migration %s has no checksum", m.label())
		}
	}
}

func TestSchemaCoversEngineTables(t *testing.T) {
	migrations, err := availableMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var all strings.Builder
	for _, m := range migrations {
		all.WriteString(m.sql)
	}
	for _, table := range []string{"installations", "users", "alarm_configurations", "alarm_triggers", "metrics"} {
		if !strings.Contains(all.String(), "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Errorf("no migration creates table %s", table)
		}
	}
	if !strings.Contains(all.String(), "create_hypertable('metrics'") {
		t.Error("metrics is not a hypertable")
	}
}

func TestDiff(t *testing.T) {
	available := []migration{
		{version: 1, name: "a", checksum: "aa"},
		{version: 2, name: "b", checksum: "bb"},
		{version: 3, name: "c", checksum: "cc"},
	}
	applied := map[int]Record{
		1: {Version: 1, Name: "a", Checksum: "aa", AppliedAt: time.Now()},
		2: {Version: 2, Name: "b", Checksum: "changed", AppliedAt: time.Now()},
	}

	pending, drifted := diff(applied, available)

	if len(pending) != 1 || pending[0].version != 3 {
		t.Errorf("pending: got %v, want [3]", pending)
	}
	if len(drifted) != 1 || drifted[0] != "002_b" {
		t.Errorf("drifted: got %v, want [002_b]", drifted)
	}
}

func TestDiff_LegacyRecordsWithoutChecksum(t *testing.T) {
	available := []migration{{version: 1, name: "a", checksum: "aa"}}
	applied := map[int]Record{1: {Version: 1, Name: "a"}}

	pending, drifted := diff(applied, available)
	if len(pending) != 0 || len(drifted) != 0 {
		t.Errorf("expected nothing pending or drifted, got %v %v", pending, drifted)
	}
}
