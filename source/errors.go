package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stsysd/studyflow/model"
)

// Kind は外部APIエラーの分類です。
type Kind string

const (
	// KindAuth は認証エラー(401/403)です。再試行しません。
	KindAuth Kind = "auth"
	// KindNotFound は設定誤りによる404です。再試行しません。
	KindNotFound Kind = "not_found"
	// KindTransient はネットワークエラー、429、5xxです。再試行します。
	KindTransient Kind = "transient"
	// KindAPI はその他の失敗レスポンスです。
	KindAPI Kind = "api"
)

// Error は外部APIの呼び出しで発生したエラーです。
type Error struct {
	Source model.Source
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %v", e.Source, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Source, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewStatusError はHTTPステータスコードからErrorを作成します。
func NewStatusError(src model.Source, status int, message string) *Error {
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{
		Source: src,
		Kind:   KindForStatus(status),
		Status: status,
		Err:    errors.New(message),
	}
}

// NewNetworkError はネットワークエラーを一時的なErrorに変換します。
func NewNetworkError(src model.Source, err error) *Error {
	return &Error{Source: src, Kind: KindTransient, Err: err}
}

// KindForStatus はHTTPステータスコードを分類します。
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return KindTransient
	default:
		return KindAPI
	}
}

// KindOf はerrに含まれるErrorの分類を返します。Errorを含まない場合は空文字列です。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransient はerrが再試行に値するかどうかを返します。
// 呼び出し元のcontextのキャンセルは一時的なエラーとみなしません。
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err) == KindTransient
}
