package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
)

// Source は課題の取得元を表します。
type Source string

const (
	SourceManual Source = "manual"
	SourceCanvas Source = "canvas"
	SourceGoogle Source = "google"
)

// ExternalSources は外部APIから同期される取得元の一覧です。
var ExternalSources = []Source{SourceCanvas, SourceGoogle}

// ParseSource は文字列からSourceを解析します。
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceManual:
		return SourceManual, nil
	case SourceCanvas:
		return SourceCanvas, nil
	case SourceGoogle:
		return SourceGoogle, nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// IsExternal は外部APIから同期される取得元かどうかを返します。
func (s Source) IsExternal() bool {
	return s == SourceCanvas || s == SourceGoogle
}

// DefaultColor は色が指定されていない場合の表示色を返します。
func (s Source) DefaultColor() string {
	switch s {
	case SourceCanvas:
		return "#e13b2b"
	case SourceGoogle:
		return "#4285f4"
	default:
		return DefaultClassColor
	}
}

// ExternalID は外部アイテムの決定的なIDを生成します。
// 同じアイテムは何度同期しても同じIDになります。
func ExternalID(s Source, upstreamID string) string {
	return string(s) + "_" + upstreamID
}

// NewID はローカルで生成する新しいIDを返します。
// UUIDv7は時刻順なので、IDは作成順に並びます。
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

const (
	// DateLayout はAssignment.DueDateの書式です。
	DateLayout = "2006-01-02"
	// ClockLayout はAssignment.DueTimeの書式です。
	ClockLayout = "15:04"
	// EndOfDay は期限時刻が未指定の場合に使う時刻です。
	EndOfDay = "23:59"
)

// ParseDueDate はYYYY-MM-DD形式の日付を解析します。
func ParseDueDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD", s)
	}
	return t, nil
}

// ParseDueTime は24時間制のHH:MM形式の時刻を解析します。
func ParseDueTime(s string) (hour, minute int, err error) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: use HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// SplitDue は時刻をlocにおけるDueDateとDueTimeの組に変換します。
func SplitDue(t time.Time, loc *time.Location) (date, clock string) {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(DateLayout), t.Format(ClockLayout)
}

var courseColors = []string{"#e74c3c", "#f39c12", "#27ae60", "#3498db", "#9b59b6", "#e67e22", "#16a085", "#2980b9"}

// CourseColor はコース名から安定した表示色を求めます。
// 同じコースは常に同じ色で表示されます。
func CourseColor(courseName string) string {
	var hash int32
	for _, c := range utf16.Encode([]rune(courseName)) {
		hash = int32(c) + ((hash << 5) - hash)
	}
	idx := int(hash) % len(courseColors)
	if idx < 0 {
		idx = -idx
	}
	return courseColors[idx]
}
