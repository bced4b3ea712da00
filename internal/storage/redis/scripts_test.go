package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestCreateStatusScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	script := redis.NewScript(createStatusScript)

	ts := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	keys := []string{statusKey("abc"), statusIndexKey}
	err := script.Run(ctx, client, keys, "abc", "popup", ts.Format(time.RFC3339Nano), ts.UnixMilli(), 10).Err()
	if err != nil {
		t.Fatalf("Script failed: %v", err)
	}

	if got := mr.HGet(statusKey("abc"), "client_name"); got != "popup" {
		t.Errorf("Expected client_name popup, got %q", got)
	}

	members, err := mr.ZMembers(statusIndexKey)
	if err != nil {
		t.Fatalf("ZMembers failed: %v", err)
	}
	if len(members) != 1 || members[0] != "abc" {
		t.Errorf("Expected index [abc], got %v", members)
	}

	score, err := mr.ZScore(statusIndexKey, "abc")
	if err != nil {
		t.Fatalf("ZScore failed: %v", err)
	}
	if int64(score) != ts.UnixMilli() {
		t.Errorf("Expected score %d, got %v", ts.UnixMilli(), score)
	}
}

func TestCreateStatusScript_Trim(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	script := redis.NewScript(createStatusScript)

	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("id-%d", i)
		ts := base.Add(time.Duration(i) * time.Second)
		keys := []string{statusKey(id), statusIndexKey}
		if err := script.Run(ctx, client, keys, id, "c", ts.Format(time.RFC3339Nano), ts.UnixMilli(), 3).Err(); err != nil {
			t.Fatalf("Script failed: %v", err)
		}
	}

	members, err := mr.ZMembers(statusIndexKey)
	if err != nil {
		t.Fatalf("ZMembers failed: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("Expected 3 indexed records, got %d", len(members))
	}
	if mr.Exists(statusKey("id-0")) || mr.Exists(statusKey("id-1")) {
		t.Error("Expected oldest records to be deleted")
	}
	if !mr.Exists(statusKey("id-4")) {
		t.Error("Expected newest record to be kept")
	}
}
