// Package model は、studyflowのデータモデル定義を提供します。
package model

import "errors"

var (
	// ErrAssignmentNotFound は指定された課題が存在しない場合のエラーです。
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrClassNotFound は指定されたクラスが存在しない場合のエラーです。
	ErrClassNotFound = errors.New("class not found")

	// ErrReadOnlyAssignment は同期元を持つ課題を編集・削除しようとした場合のエラーです。
	// ユーザーが所有するのは手動で作成した課題のみです。
	ErrReadOnlyAssignment = errors.New("assignment is synced from an external source and cannot be modified")

	// ErrQuotaExceeded は書き込みがストアの容量上限を超える場合のエラーです。
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// ValidationError は入力値の検証エラーを表します。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NewValidationError は指定フィールドのValidationErrorを作成します。
func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// IsValidationError はerrがValidationErrorを含むかどうかを返します。
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
