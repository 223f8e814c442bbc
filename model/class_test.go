package model

import (
	"testing"
	"time"
)

func TestNewClass(t *testing.T) {
	now := time.Now()

	c, err := NewClass(ClassInput{Name: " Algebra II ", Subject: "Math"}, now)
	if err != nil {
		t.Fatalf("Failed to create class: %v", err)
	}
	if c.Name != "Algebra II" {
		t.Errorf("Expected trimmed name, got %q", c.Name)
	}
	// 色と教員は既定値で補完される
	if c.Color != DefaultClassColor {
		t.Errorf("Expected default color %s, got %s", DefaultClassColor, c.Color)
	}
	if c.Teacher != UnknownTeacher {
		t.Errorf("Expected teacher %q, got %q", UnknownTeacher, c.Teacher)
	}

	if _, err := NewClass(ClassInput{Name: "  "}, now); !IsValidationError(err) {
		t.Errorf("Expected validation error for empty name, got %v", err)
	}
}

func TestClassMatches(t *testing.T) {
	c := &Class{ID: "c1", Name: "Biology", Subject: "Science"}

	tests := []struct {
		name string
		a    Assignment
		want bool
	}{
		{name: "same pair", a: Assignment{CourseName: "Biology", Subject: "Science"}, want: true},
		{name: "different subject", a: Assignment{CourseName: "Biology", Subject: "Art"}, want: false},
		{name: "no subject", a: Assignment{CourseName: "Biology"}, want: false},
		{name: "no course", a: Assignment{Subject: "Science"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Matches(&tt.a); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueueActionSource(t *testing.T) {
	for _, s := range ExternalSources {
		action, ok := SyncAction(s)
		if !ok {
			t.Fatalf("no action for %s", s)
		}
		back, ok := action.Source()
		if !ok || back != s {
			t.Errorf("round trip of %s gave %s", s, back)
		}
	}
	if _, ok := SyncAction(SourceManual); ok {
		t.Error("manual source must not have a sync action")
	}
	if ActionSyncCanvas != "syncCanvas" || ActionSyncGoogle != "syncGoogle" {
		t.Error("queued action names changed")
	}
}
