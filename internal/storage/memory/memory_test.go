package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/focusguard/internal/storage"
)

func TestKVStore_GetSet(t *testing.T) {
	ctx := context.Background()
	kv := New().KV()

	if err := kv.Set(ctx, map[string][]byte{"a": []byte(`1`), "b": []byte(`2`)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := kv.Get(ctx, "a", "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got["a"]) != "1" {
		t.Errorf("Expected a=1, got %q", got["a"])
	}
	if _, ok := got["missing"]; ok {
		t.Error("Expected missing key to be absent")
	}

	// Returned values are copies
	got["a"][0] = '9'
	again, _ := kv.Get(ctx, "a")
	if string(again["a"]) != "1" {
		t.Errorf("Expected stored value to be unchanged, got %q", again["a"])
	}
}

func TestKVStore_UpdateError(t *testing.T) {
	ctx := context.Background()
	kv := New().KV()
	_ = kv.Set(ctx, map[string][]byte{"a": []byte(`1`)})

	boom := errors.New("boom")
	err := kv.Update(ctx, []string{"a"}, func(map[string][]byte) (map[string][]byte, error) {
		return map[string][]byte{"a": []byte(`2`)}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected callback error, got %v", err)
	}

	got, _ := kv.Get(ctx, "a")
	if string(got["a"]) != "1" {
		t.Errorf("Expected no write on error, got %q", got["a"])
	}
}

func TestKVStore_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	kv := New().KV()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = kv.Update(ctx, []string{"n"}, func(current map[string][]byte) (map[string][]byte, error) {
				n := 0
				if err := storage.Decode(current, "n", &n); err != nil {
					return nil, err
				}
				raw, err := storage.Encode("n", n+1)
				if err != nil {
					return nil, err
				}
				return map[string][]byte{"n": raw}, nil
			})
		}()
	}
	wg.Wait()

	got, _ := kv.Get(ctx, "n")
	if string(got["n"]) != "50" {
		t.Errorf("Expected 50 increments, got %s", got["n"])
	}
}

func TestStatusStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	status := New().Status()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	for i, name := range []string{"first", "second", "third"} {
		check := storage.StatusCheck{ID: name, ClientName: name, Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if err := status.Create(ctx, check); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	all, err := status.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "third" || all[2].ID != "first" {
		t.Errorf("Unexpected order: %+v", all)
	}

	limited, _ := status.List(ctx, 2)
	if len(limited) != 2 || limited[1].ID != "second" {
		t.Errorf("Unexpected limited list: %+v", limited)
	}
}
