package migrations

import (
	"io/fs"
	"sort"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected embedded file %q", name)
		}
	}

	if len(ups) == 0 {
		t.Fatal("no up migrations embedded")
	}
	for name := range ups {
		if !downs[name] {
			t.Errorf("migration %q has no down counterpart", name)
		}
	}
	for name := range downs {
		if !ups[name] {
			t.Errorf("migration %q has no up counterpart", name)
		}
	}
}

func TestEmbeddedMigrationsVersionOrder(t *testing.T) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	var versions []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			versions = append(versions, strings.SplitN(entry.Name(), "_", 2)[0])
		}
	}
	if !sort.StringsAreSorted(versions) {
		t.Errorf("migration versions out of order: %v", versions)
	}
	for i, v := range versions {
		if len(v) != 4 {
			t.Errorf("version %q at %d is not zero-padded to four digits", v, i)
		}
	}
}

func TestMigrationSourceLoads(t *testing.T) {
	source, err := iofs.New(files, ".")
	if err != nil {
		t.Fatalf("iofs source: %v", err)
	}
	defer source.Close()

	first, err := source.First()
	if err != nil {
		t.Fatalf("first migration: %v", err)
	}
	if first != 1 {
		t.Errorf("first migration version = %d, want 1", first)
	}
}
