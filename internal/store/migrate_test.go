package store

import (
	"os"
	"sort"
	"strings"
	"testing"
)

const migrationsDir = "../../db/migrations"

func TestMigrationFilesPairUp(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
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
			t.Errorf("unexpected file %q in migrations dir", name)
		}
	}
	if len(ups) == 0 {
		t.Fatal("no up migrations found")
	}
	for version := range ups {
		if !downs[version] {
			t.Errorf("migration %s has no down file", version)
		}
	}
	for version := range downs {
		if !ups[version] {
			t.Errorf("down migration %s has no up file", version)
		}
	}
}

func TestMigrationVersionsSortInApplyOrder(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var versions []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			versions = append(versions, entry.Name())
		}
	}
	if !sort.StringsAreSorted(versions) {
		t.Fatalf("migration files must sort lexically into apply order: %v", versions)
	}
}

func TestMarshalOverridesNilIsEmptyObject(t *testing.T) {
	encoded, err := marshalOverrides(nil)
	if err != nil {
		t.Fatalf("marshalOverrides: %v", err)
	}
	if string(encoded) != "{}" {
		t.Fatalf("got %s, want {}", encoded)
	}
}

func TestMarshalActionDataNilIsEmptyObject(t *testing.T) {
	encoded, err := marshalActionData(nil)
	if err != nil {
		t.Fatalf("marshalActionData: %v", err)
	}
	if string(encoded) != "{}" {
		t.Fatalf("got %s, want {}", encoded)
	}
}
