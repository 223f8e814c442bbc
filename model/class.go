package model

import (
	"strings"
	"time"
)

// DefaultClassColor は色が未指定のクラスと手動課題の表示色です。
const DefaultClassColor = "#667eea"

// UnknownTeacher は教員が不明なクラスに設定される値です。
const UnknownTeacher = "Not specified"

// Class はユーザーが定義するコースのまとまりです。
// 課題はAssignment.ClassIDで参照しますが、クラスに所有はされません。
type Class struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Teacher   string    `json:"teacher"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// ClassInput はクラスの入力値です。
type ClassInput struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Teacher string `json:"teacher"`
	Color   string `json:"color"`
}

// NewClass は入力値を検証し、新しいクラスを作成します。
func NewClass(in ClassInput, now time.Time) (*Class, error) {
	c := &Class{
		ID:        NewID(),
		Name:      strings.TrimSpace(in.Name),
		Subject:   strings.TrimSpace(in.Subject),
		Teacher:   strings.TrimSpace(in.Teacher),
		Color:     in.Color,
		CreatedAt: now,
	}
	if c.Color == "" {
		c.Color = DefaultClassColor
	}
	if c.Teacher == "" {
		c.Teacher = UnknownTeacher
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate はクラスのフィールドを検証します。
func (c *Class) Validate() error {
	if c.ID == "" {
		return NewValidationError("id", "is required")
	}
	if c.Name == "" {
		return NewValidationError("name", "is required")
	}
	return nil
}

// Matches は課題が(name, subject)でこのクラスに一致するかどうかを返します。
func (c *Class) Matches(a *Assignment) bool {
	return a.SameCourse(c.Name, c.Subject)
}
