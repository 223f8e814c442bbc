package model

import (
	"errors"
	"strings"
	"time"
)

// Priority はユーザーが設定できる優先度です。
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority は優先度を解析します。空文字列は未設定を表します。
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	}
	return "", NewValidationError("priority", "must be one of low, medium, high")
}

// Assignment は期限を持つ課題を表すモデルです。取得元に関係なく同じ形で扱います。
type Assignment struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueDate     string     `json:"due_date"`           // YYYY-MM-DD
	DueTime     string     `json:"due_time,omitempty"` // HH:MM、空の場合は23:59
	Completed   bool       `json:"completed"`
	Source      Source     `json:"source"`
	CourseName  string     `json:"course_name,omitempty"`
	CourseID    string     `json:"course_id,omitempty"`
	Subject     string     `json:"subject,omitempty"`
	ClassID     string     `json:"class_id,omitempty"` // Classへの弱参照
	Teacher     string     `json:"teacher,omitempty"`
	CustomColor string     `json:"custom_color,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	URL         string     `json:"url,omitempty"`
	Points      float64    `json:"points,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
}

// AssignmentInput は手動課題の入力値です。
type AssignmentInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DueDate     string `json:"due_date"`
	DueTime     string `json:"due_time"`
	CourseName  string `json:"course_name"`
	Subject     string `json:"subject"`
	ClassID     string `json:"class_id"`
	Teacher     string `json:"teacher"`
	CustomColor string `json:"custom_color"`
	Priority    string `json:"priority"`
}

// NewManualAssignment は入力値を検証し、新しい手動課題を作成します。
func NewManualAssignment(in AssignmentInput, now time.Time) (*Assignment, error) {
	priority, err := ParsePriority(in.Priority)
	if err != nil {
		return nil, err
	}
	a := &Assignment{
		ID:          NewID(),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		DueDate:     strings.TrimSpace(in.DueDate),
		DueTime:     strings.TrimSpace(in.DueTime),
		Source:      SourceManual,
		CourseName:  strings.TrimSpace(in.CourseName),
		Subject:     strings.TrimSpace(in.Subject),
		ClassID:     in.ClassID,
		Teacher:     strings.TrimSpace(in.Teacher),
		CustomColor: in.CustomColor,
		Priority:    priority,
		CreatedAt:   now,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Apply は編集可能なフィールドをinで上書きします。
// ID、取得元、完了状態、作成日時は変更しません。
func (a *Assignment) Apply(in AssignmentInput) error {
	if !a.Editable() {
		return ErrReadOnlyAssignment
	}
	priority, err := ParsePriority(in.Priority)
	if err != nil {
		return err
	}
	next := *a
	next.Title = strings.TrimSpace(in.Title)
	next.Description = strings.TrimSpace(in.Description)
	next.DueDate = strings.TrimSpace(in.DueDate)
	next.DueTime = strings.TrimSpace(in.DueTime)
	next.CourseName = strings.TrimSpace(in.CourseName)
	next.Subject = strings.TrimSpace(in.Subject)
	next.ClassID = in.ClassID
	next.Teacher = strings.TrimSpace(in.Teacher)
	next.CustomColor = in.CustomColor
	next.Priority = priority
	if err := next.Validate(); err != nil {
		return err
	}
	*a = next
	return nil
}

// Validate は課題のフィールドを検証します。
func (a *Assignment) Validate() error {
	if a.ID == "" {
		return errors.New("id is required")
	}
	if a.Title == "" {
		return NewValidationError("title", "is required")
	}
	if a.DueDate == "" {
		return NewValidationError("due_date", "is required")
	}
	if _, err := ParseDueDate(a.DueDate); err != nil {
		return NewValidationError("due_date", err.Error())
	}
	if a.DueTime != "" {
		if _, _, err := ParseDueTime(a.DueTime); err != nil {
			return NewValidationError("due_time", err.Error())
		}
	}
	switch a.Source {
	case SourceManual, SourceCanvas, SourceGoogle:
	default:
		return NewValidationError("source", "must be one of manual, canvas, google")
	}
	return nil
}

// Editable はユーザーが課題を編集できるかどうかを返します。
func (a *Assignment) Editable() bool {
	return a.Source == SourceManual
}

// Deletable はユーザーが課題を削除できるかどうかを返します。
func (a *Assignment) Deletable() bool {
	return a.Source == SourceManual
}

// Color は表示色を返します。未指定の場合は取得元の既定色です。
func (a *Assignment) Color() string {
	if a.CustomColor != "" {
		return a.CustomColor
	}
	return a.Source.DefaultColor()
}

// Clock は期限時刻を返します。未指定の場合は23:59です。
func (a *Assignment) Clock() string {
	if a.DueTime == "" {
		return EndOfDay
	}
	return a.DueTime
}

// Due はlocにおける期限日時を返します。
func (a *Assignment) Due(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	d, err := ParseDueDate(a.DueDate)
	if err != nil {
		return time.Time{}, err
	}
	h, m, err := ParseDueTime(a.Clock())
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc), nil
}

// SameCourse は課題が(name, subject)のコースに属するかどうかを返します。
func (a *Assignment) SameCourse(name, subject string) bool {
	return a.CourseName != "" && a.Subject != "" && a.CourseName == name && a.Subject == subject
}
