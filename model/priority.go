package model

import (
	"math"
	"time"
)

// Category は期限までの近さによる課題の分類です。
type Category string

const (
	CategoryOverdue      Category = "overdue"
	CategoryHighPriority Category = "high-priority"
	CategoryComingUp     Category = "coming-up"
	CategoryWorryLater   Category = "worry-later"
)

// Categories は緊急度順のカテゴリ一覧です。
var Categories = []Category{CategoryOverdue, CategoryHighPriority, CategoryComingUp, CategoryWorryLater}

const day = 24 * time.Hour

// DaysUntil は ceil((due - now) / 1日) を返します。
func DaysUntil(due, now time.Time) int {
	return int(math.Ceil(float64(due.Sub(now)) / float64(day)))
}

// Classify はnowを基準にdueをいずれか1つのカテゴリに分類します。
//
//	days < 0    overdue
//	0 ..  4     high-priority
//	5 .. 10     coming-up
//	days > 10   worry-later
func Classify(due, now time.Time) Category {
	switch days := DaysUntil(due, now); {
	case days < 0:
		return CategoryOverdue
	case days <= 4:
		return CategoryHighPriority
	case days <= 10:
		return CategoryComingUp
	default:
		return CategoryWorryLater
	}
}

// CategoryFor は課題を暦日で分類します。期限日はnowのタイムゾーンの0時として扱います。
// 解析できない日付は期限切れとみなします。
func CategoryFor(a *Assignment, now time.Time) Category {
	d, err := ParseDueDate(a.DueDate)
	if err != nil {
		return CategoryOverdue
	}
	due := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, now.Location())
	return Classify(due, now)
}

// EffectivePriority は明示的な優先度があればそれを、なければ期限から求めた優先度を返します。
func EffectivePriority(a *Assignment, now time.Time) Priority {
	if a.Priority != "" {
		return a.Priority
	}
	switch CategoryFor(a, now) {
	case CategoryOverdue, CategoryHighPriority:
		return PriorityHigh
	case CategoryComingUp:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
