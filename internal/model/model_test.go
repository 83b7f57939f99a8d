package model

import (
	"regexp"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{NewID(), true},
		{"01ARZ3NDEKTSV4RRFFQ69G5FAV", true},
		{"", false},
		{"not-a-ulid", false},
		{"01ARZ3NDEKTSV4RRFFQ69G5FA", false},
		{"01ARZ3NDEKTSV4RRFFQ69G5FAU", false},
		{"81ARZ3NDEKTSV4RRFFQ69G5FAV", false},
	}
	for _, tt := range tests {
		if got := ValidID(tt.id); got != tt.want {
			t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusCompleted, false},
		{StatusFailed, StatusRunning, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestProgress(t *testing.T) {
	ok := StepResult{Result: ExecutionResult{Success: true}}
	bad := StepResult{Result: Failure(KindExecutionTimeout, "")}

	tests := []struct {
		name string
		run  Run
		want int
	}{
		{"pending", Run{Status: StatusPending, StepCount: 2}, 0},
		{"running none", Run{Status: StatusRunning, StepCount: 4}, 0},
		{"running half", Run{Status: StatusRunning, StepCount: 4, Results: []StepResult{ok, ok}}, 50},
		{"completed", Run{Status: StatusCompleted, StepCount: 2, Results: []StepResult{ok, ok}}, 100},
		{"failed last step", Run{Status: StatusFailed, StepCount: 2, Results: []StepResult{ok, bad}}, 50},
		{"failed first step", Run{Status: StatusFailed, StepCount: 3, Results: []StepResult{bad}}, 0},
	}
	for _, tt := range tests {
		if got := tt.run.Progress(); got != tt.want {
			t.Errorf("%s: Progress() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestRunCloneIsolated(t *testing.T) {
	fs := 1
	now := time.Now()
	r := Run{
		ID:          "r1",
		Status:      StatusFailed,
		Results:     []StepResult{{StepIndex: 0, Result: Failure(KindInternalError, "boom")}},
		FailedStep:  &fs,
		Error:       &ExecError{Kind: KindInternalError},
		CompletedAt: &now,
	}

	c := r.Clone()
	c.Results[0].Result.Error.Message = "changed"
	*c.FailedStep = 7
	c.Error.Kind = KindStoppedByUser

	if r.Results[0].Result.Error.Message != "boom" {
		t.Error("clone shares result error with original")
	}
	if *r.FailedStep != 1 {
		t.Error("clone shares failed step with original")
	}
	if r.Error.Kind != KindInternalError {
		t.Error("clone shares run error with original")
	}
}

func TestStepJSONTimeoutMilliseconds(t *testing.T) {
	s := Step{ExecutorID: "e1", CapabilityType: "analysis", Timeout: 1500 * time.Millisecond}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["timeout_ms"] != float64(1500) {
		t.Errorf("timeout_ms = %v, want 1500", raw["timeout_ms"])
	}

	var back Step
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Timeout != s.Timeout {
		t.Errorf("Timeout = %v, want %v", back.Timeout, s.Timeout)
	}
}

func TestExecErrorMessage(t *testing.T) {
	e := &ExecError{Kind: KindExecutionTimeout, Message: "step 2 exceeded 100ms"}
	if e.Error() != "ExecutionTimeout: step 2 exceeded 100ms" {
		t.Errorf("Error() = %q", e.Error())
	}
	bare := &ExecError{Kind: KindStoppedByUser}
	if bare.Error() != "StoppedByUser" {
		t.Errorf("Error() = %q", bare.Error())
	}
}
