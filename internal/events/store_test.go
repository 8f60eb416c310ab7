package events

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "events"))
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestAppendAndRead(t *testing.T) {
	store := openStore(t)

	if _, err := store.Append("battle-1", `{"kind":"created"}`); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append("battle-1", `{"kind":"choice","turn":1}`); err != nil {
		t.Fatal(err)
	}

	events, err := store.Read("battle-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0] != `{"kind":"created"}` {
		t.Fatalf("unexpected first payload %q", events[0])
	}
}

func TestReadUnknownBattle(t *testing.T) {
	store := openStore(t)
	records, err := store.ReadRecords("never-created")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty journal, got %d", len(records))
	}
}

func TestReadSince(t *testing.T) {
	store := openStore(t)
	var ids []string
	for i := range 4 {
		id, err := store.Append("battle-2", `{"seq":`+strconv.Itoa(i)+`}`)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	records, err := store.ReadSince("battle-2", ids[1])
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after %s, got %d", ids[1], len(records))
	}
	if records[0].ID != ids[2] || records[1].ID != ids[3] {
		t.Fatalf("unexpected ids %+v", records)
	}

	records, err = store.ReadSince("battle-2", ids[3])
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("expected nothing after last id, got %d", len(records))
	}
}

func TestAppendRejectsMultiline(t *testing.T) {
	store := openStore(t)
	if _, err := store.Append("battle-3", "a\nb"); err == nil {
		t.Fatal("expected error for multi-line payload")
	}
}

func TestBattleIDIsSanitized(t *testing.T) {
	store := openStore(t)
	if _, err := store.Append("../escape", `{}`); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(store.RootDir, ".._escape.jsonl")); err != nil {
		t.Fatalf("expected sanitized journal file: %v", err)
	}
}

func TestConcurrentAppend(t *testing.T) {
	store := openStore(t)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			_, _ = store.Append("battle-4", `{"kind":"choice","turn":`+strconv.Itoa(v)+`}`)
		}(i)
	}
	wg.Wait()

	records, err := store.ReadRecords("battle-4")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 50 {
		t.Fatalf("expected 50 events, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].ID <= records[i-1].ID {
			t.Fatalf("journal out of id order at %d", i)
		}
	}
}

func TestCleanup(t *testing.T) {
	store := openStore(t)
	if _, err := store.Append("battle-5", `{"kind":"created"}`); err != nil {
		t.Fatal(err)
	}
	if err := store.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(store.RootDir); err == nil {
		t.Fatal("root should be removed")
	}
}
