package migrate

import (
	"testing"
)

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion int
		wantName    string
		wantErr     bool
	}{
		{"001_initial_schema.sql", 1, "initial_schema", false},
		{"042_future_change.sql", 42, "future_change", false},
		{"001_name_with_underscores.sql", 1, "name_with_underscores", false},
		{"invalid.sql", 0, "", true},
		{"abc_name.sql", 0, "", true},
		{"001.sql", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, err := parseMigrationFilename(tt.filename)

			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %s, got nil", tt.filename)
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error for %s: %v", tt.filename, err)
				return
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

	if len(migrations) == 0 {
		t.Fatal("expected at least one migration, got none")
	}

	for i := 1; i < len(migrations); i++ {
		if migrations[i].version <= migrations[i-1].version {
			t.Errorf("migrations not sorted: %d before %d",
				migrations[i-1].version, migrations[i].version)
		}
	}
}
