package model

import (
	"encoding/json"
	"time"
)

// Action はオフライン時にキューへ積まれる同期操作の名前です。
type Action string

const (
	ActionSyncCanvas Action = "syncCanvas"
	ActionSyncGoogle Action = "syncGoogle"
)

// SyncAction はsの同期をやり直すActionを返します。
func SyncAction(s Source) (Action, bool) {
	switch s {
	case SourceCanvas:
		return ActionSyncCanvas, true
	case SourceGoogle:
		return ActionSyncGoogle, true
	}
	return "", false
}

// Source はActionが同期する取得元を返します。
func (a Action) Source() (Source, bool) {
	switch a {
	case ActionSyncCanvas:
		return SourceCanvas, true
	case ActionSyncGoogle:
		return SourceGoogle, true
	}
	return "", false
}

// QueuedAction はオフラインキューの1件を表します。
type QueuedAction struct {
	Action    Action          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
