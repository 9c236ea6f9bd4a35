package bottle

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testRuntime() WineRuntime {
	return WineRuntime{
		Label:      "wine x86_64 9.0",
		Wine64Path: "/runtimes/wine-x86_64-9.0/bin/wine64",
		Version:    "9.0",
		Channel:    "rosetta",
	}
}

func openRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(filepath.Join(t.TempDir(), "bottles"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestCreateWritesRecordAndPrefix(t *testing.T) {
	reg := openRegistry(t)

	record, err := reg.Create("steam", testRuntime())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if record.ID == "" {
		t.Fatal("created bottle has empty id")
	}
	if record.WineRuntime.Version != "9.0" {
		t.Errorf("runtime version = %q, want 9.0", record.WineRuntime.Version)
	}
	if record.Environment == nil {
		t.Error("environment should be an empty slice, not nil")
	}

	if _, err := os.Stat(filepath.Join(reg.Dir(record.ID), "bottle.json")); err != nil {
		t.Errorf("record file missing: %v", err)
	}
	info, err := os.Stat(reg.PrefixDir(record.ID))
	if err != nil {
		t.Fatalf("prefix dir missing: %v", err)
	}
	if !info.IsDir() {
		t.Error("prefix is not a directory")
	}
}

func TestCreateAssignsUniqueIDs(t *testing.T) {
	reg := openRegistry(t)

	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, err := reg.Create("steam", testRuntime())
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			mu.Lock()
			if seen[record.ID] {
				t.Errorf("duplicate id %s", record.ID)
			}
			seen[record.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
}

func TestGetRoundTrip(t *testing.T) {
	reg := openRegistry(t)

	created, err := reg.Create("steam", testRuntime())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := reg.Get(created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != created.ID || got.Name != "steam" {
		t.Errorf("Get = %+v", got)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt changed across round trip: %v vs %v", got.CreatedAt, created.CreatedAt)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	reg := openRegistry(t)

	_, err := reg.Get("no-such-bottle")
	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestListSortsAndSkipsBroken(t *testing.T) {
	reg := openRegistry(t)

	if _, err := reg.Create("zork", testRuntime()); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Create("age-of-empires", testRuntime()); err != nil {
		t.Fatal(err)
	}

	// A directory with a corrupt record must not break the listing.
	brokenDir := filepath.Join(reg.Root(), "broken")
	if err := os.MkdirAll(brokenDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(brokenDir, "bottle.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A directory without any record at all is skipped silently.
	if err := os.MkdirAll(filepath.Join(reg.Root(), "orphan"), 0o755); err != nil {
		t.Fatal(err)
	}

	bottles, err := reg.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(bottles) != 2 {
		t.Fatalf("expected 2 bottles, got %d", len(bottles))
	}
	if bottles[0].Name != "age-of-empires" || bottles[1].Name != "zork" {
		t.Errorf("list not sorted by name: %s, %s", bottles[0].Name, bottles[1].Name)
	}
}

func TestDeleteRemovesRecordAndPrefix(t *testing.T) {
	reg := openRegistry(t)

	record, err := reg.Create("steam", testRuntime())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	claim := reg.Acquire(record.ID)
	err = reg.Delete(record.ID)
	claim.Release()
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}

	bottles, err := reg.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, b := range bottles {
		if b.ID == record.ID {
			t.Error("deleted bottle still listed")
		}
	}
	if _, err := os.Stat(reg.Dir(record.ID)); !os.IsNotExist(err) {
		t.Errorf("bottle directory still present: %v", err)
	}
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	reg := openRegistry(t)

	if err := reg.Delete("no-such-bottle"); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestMergeEnvironmentPersists(t *testing.T) {
	reg := openRegistry(t)

	record, err := reg.Create("steam", testRuntime())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	claim := reg.Acquire(record.ID)
	defer claim.Release()

	updated, err := reg.MergeEnvironment(record.ID, []EnvVar{{Name: "A", Value: "1"}})
	if err != nil {
		t.Fatalf("MergeEnvironment: %v", err)
	}
	if v, _ := updated.EnvValue("A"); v != "1" {
		t.Errorf("merged value = %q", v)
	}

	updated, err = reg.MergeEnvironment(record.ID, []EnvVar{{Name: "A", Value: "2"}})
	if err != nil {
		t.Fatalf("MergeEnvironment: %v", err)
	}
	if v, _ := updated.EnvValue("A"); v != "2" {
		t.Errorf("merged value = %q, want 2", v)
	}
	if len(updated.Environment) != 1 {
		t.Errorf("unexpected extra entries: %+v", updated.Environment)
	}

	reloaded, err := reg.Get(record.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v, _ := reloaded.EnvValue("A"); v != "2" {
		t.Errorf("merge not persisted, value = %q", v)
	}
}

func TestMergeEnvironmentMissingIsNotFound(t *testing.T) {
	reg := openRegistry(t)

	if _, err := reg.MergeEnvironment("no-such-bottle", nil); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestAcquireSerializesSameID(t *testing.T) {
	reg := openRegistry(t)

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim := reg.Acquire("same-id")
			defer claim.Release()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("claims overlapped: max concurrent holders = %d", maxActive)
	}
}

func TestAcquireDistinctIDsDoNotBlock(t *testing.T) {
	reg := openRegistry(t)

	first := reg.Acquire("bottle-a")
	defer first.Release()

	done := make(chan struct{})
	go func() {
		claim := reg.Acquire("bottle-b")
		claim.Release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acquire for a different id blocked behind an unrelated claim")
	}
}

func TestClaimTableShrinksWhenIdle(t *testing.T) {
	reg := openRegistry(t)

	claim := reg.Acquire("bottle-a")
	claim.Release()

	reg.claims.mu.Lock()
	size := len(reg.claims.entries)
	reg.claims.mu.Unlock()

	if size != 0 {
		t.Errorf("claim table should be empty when idle, has %d entries", size)
	}
}
