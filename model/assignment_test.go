package model

import (
	"errors"
	"testing"
	"time"
)

func TestNewManualAssignment(t *testing.T) {
	now := time.Date(2025, 5, 21, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		input     AssignmentInput
		wantField string
	}{
		{
			name:  "valid with time",
			input: AssignmentInput{Title: "Essay", DueDate: "2025-06-01", DueTime: "09:30", Priority: "high"},
		},
		{
			name:  "valid without time",
			input: AssignmentInput{Title: "  Worksheet  ", DueDate: "2025-06-01"},
		},
		{
			name:      "missing title",
			input:     AssignmentInput{Title: "   ", DueDate: "2025-06-01"},
			wantField: "title",
		},
		{
			name:      "missing due date",
			input:     AssignmentInput{Title: "Essay"},
			wantField: "due_date",
		},
		{
			name:      "bad due date",
			input:     AssignmentInput{Title: "Essay", DueDate: "06/01/2025"},
			wantField: "due_date",
		},
		{
			name:      "bad due time",
			input:     AssignmentInput{Title: "Essay", DueDate: "2025-06-01", DueTime: "25:00"},
			wantField: "due_time",
		},
		{
			name:      "bad priority",
			input:     AssignmentInput{Title: "Essay", DueDate: "2025-06-01", Priority: "urgent"},
			wantField: "priority",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewManualAssignment(tt.input, now)
			if tt.wantField != "" {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				if ve.Field != tt.wantField {
					t.Errorf("expected field %q, got %q", tt.wantField, ve.Field)
				}
				if a != nil {
					t.Errorf("expected nil assignment on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if a.ID == "" {
				t.Error("expected generated id")
			}
			if a.Source != SourceManual {
				t.Errorf("expected manual source, got %q", a.Source)
			}
			if a.Completed {
				t.Error("new assignment must not be completed")
			}
			if !a.CreatedAt.Equal(now) {
				t.Errorf("expected CreatedAt %v, got %v", now, a.CreatedAt)
			}
		})
	}
}

func TestManualIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestApplyRefusesSyncedAssignments(t *testing.T) {
	a := Assignment{ID: "canvas_1", Title: "Quiz", DueDate: "2025-06-01", Source: SourceCanvas}
	err := a.Apply(AssignmentInput{Title: "Renamed", DueDate: "2025-06-02"})
	if !errors.Is(err, ErrReadOnlyAssignment) {
		t.Fatalf("expected ErrReadOnlyAssignment, got %v", err)
	}
	if a.Title != "Quiz" {
		t.Errorf("assignment must be unchanged, got title %q", a.Title)
	}
}

func TestApplyKeepsStateOnValidationError(t *testing.T) {
	a := Assignment{ID: "1", Title: "Essay", DueDate: "2025-06-01", Source: SourceManual, Completed: true}
	if err := a.Apply(AssignmentInput{Title: "", DueDate: "2025-06-02"}); !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if a.Title != "Essay" || a.DueDate != "2025-06-01" {
		t.Errorf("assignment must be unchanged, got %+v", a)
	}

	if err := a.Apply(AssignmentInput{Title: "Essay v2", DueDate: "2025-06-02", Priority: "low"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Title != "Essay v2" || a.Priority != PriorityLow || !a.Completed {
		t.Errorf("unexpected result %+v", a)
	}
}

func TestDueDefaultsToEndOfDay(t *testing.T) {
	a := Assignment{DueDate: "2025-06-01"}
	due, err := a.Due(time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC)
	if !due.Equal(want) {
		t.Errorf("Due() = %v, want %v", due, want)
	}
}

func TestColorFallsBackToSource(t *testing.T) {
	tests := []struct {
		a    Assignment
		want string
	}{
		{Assignment{Source: SourceCanvas}, "#e13b2b"},
		{Assignment{Source: SourceGoogle}, "#4285f4"},
		{Assignment{Source: SourceManual}, DefaultClassColor},
		{Assignment{Source: SourceCanvas, CustomColor: "#000000"}, "#000000"},
	}
	for _, tt := range tests {
		if got := tt.a.Color(); got != tt.want {
			t.Errorf("Color() for %s = %q, want %q", tt.a.Source, got, tt.want)
		}
	}
}

func TestExternalID(t *testing.T) {
	if got := ExternalID(SourceCanvas, "987"); got != "canvas_987" {
		t.Errorf("ExternalID() = %q, want canvas_987", got)
	}
	if got := ExternalID(SourceGoogle, "abc"); got != "google_abc" {
		t.Errorf("ExternalID() = %q, want google_abc", got)
	}
}

func TestCourseColorIsStable(t *testing.T) {
	names := []string{"Algebra II", "Biology", "", "Historia de América", "AP Computer Science A"}
	for _, name := range names {
		first := CourseColor(name)
		if first == "" {
			t.Fatalf("empty colour for %q", name)
		}
		for i := 0; i < 3; i++ {
			if got := CourseColor(name); got != first {
				t.Errorf("CourseColor(%q) changed from %s to %s", name, first, got)
			}
		}
	}
	if CourseColor("") != courseColors[0] {
		t.Errorf("empty name should map to the first palette colour")
	}
}

func TestParseSource(t *testing.T) {
	for _, s := range []string{"manual", "Canvas", " google "} {
		if _, err := ParseSource(s); err != nil {
			t.Errorf("ParseSource(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseSource("moodle"); err == nil {
		t.Error("expected error for unknown source")
	}
}
