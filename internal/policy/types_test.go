package policy

import (
	"encoding/json"
	"testing"
)

func TestScheduleID_JSON(t *testing.T) {
	var schedules []BlockingSchedule
	raw := `[{"id":1705312800000,"name":"Work"},{"id":"abc","name":"Study"},{"name":"None"}]`
	if err := json.Unmarshal([]byte(raw), &schedules); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if schedules[0].ID != "1705312800000" {
		t.Errorf("Expected numeric id, got %q", schedules[0].ID)
	}
	if schedules[1].ID != "abc" {
		t.Errorf("Expected string id, got %q", schedules[1].ID)
	}
	if schedules[2].ID != "" {
		t.Errorf("Expected empty id, got %q", schedules[2].ID)
	}

	out, err := json.Marshal(schedules[0].ID)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != "1705312800000" {
		t.Errorf("Expected numeric id to marshal as a number, got %s", out)
	}

	out, err = json.Marshal(schedules[1].ID)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != `"abc"` {
		t.Errorf("Expected string id to marshal as a string, got %s", out)
	}
}

func TestBlockingSchedule_Key(t *testing.T) {
	s := BlockingSchedule{Name: "Deep  Work\tBlock"}
	if got := s.Key(); got != "Deep_Work_Block" {
		t.Errorf("Key() = %q, want Deep_Work_Block", got)
	}
}
