// Package source は、外部の学習管理システムから課題を取得するアダプターの共通部分を提供します。
package source

import (
	"context"
	"fmt"

	"github.com/stsysd/studyflow/model"
)

// Adapter は外部APIから課題を取得し、正規化されたAssignmentに変換します。
type Adapter interface {
	// Source はアダプターの取得元を返します。
	Source() model.Source
	// Fetch はすべての有効なコースから課題を取得します。
	// 一部のコースの失敗はBatch.Failuresに記録され、全体は失敗しません。
	Fetch(ctx context.Context) (*Batch, error)
}

// Batch は1回の取得で得られた正規化済みの課題です。
type Batch struct {
	Source      model.Source
	Assignments []*model.Assignment
	// Courses は取得対象になったコースの数です。
	Courses  int
	Failures []CourseFailure
}

// CourseFailure は1つのコースの取得失敗を表します。
type CourseFailure struct {
	CourseID   string `json:"course_id"`
	CourseName string `json:"course_name"`
	Err        error  `json:"-"`
}

func (f CourseFailure) Error() string {
	return fmt.Sprintf("course %s (%s): %v", f.CourseName, f.CourseID, f.Err)
}

func (f CourseFailure) Unwrap() error {
	return f.Err
}
