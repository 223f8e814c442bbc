package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/stsysd/studyflow/model"
	"github.com/stsysd/studyflow/syncer"
)

// SourceStatus は取得元の接続状態です。
type SourceStatus struct {
	Source   model.Source `json:"source"`
	LastSync *time.Time   `json:"last_sync,omitempty"`
}

// SyncStatusResponse は同期の状態のレスポンスです。
type SyncStatusResponse struct {
	Sources []SourceStatus       `json:"sources"`
	Queue   []model.QueuedAction `json:"queue"`
}

// parseExternalSource はパスパラメータから外部の取得元を解析します。
func parseExternalSource(r *http.Request) (model.Source, error) {
	src, err := model.ParseSource(r.PathValue("source"))
	if err != nil {
		return "", model.NewValidationError("source", err.Error())
	}
	if !src.IsExternal() {
		return "", model.NewValidationError("source", "manual assignments are not synced")
	}
	return src, nil
}

// handleSyncStatus は設定済みの取得元と最終同期時刻、オフラインキューを返すハンドラーです。
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := SyncStatusResponse{Sources: []SourceStatus{}}
	for _, src := range s.syncer.Sources() {
		status := SourceStatus{Source: src}
		last, ok, err := s.syncer.LastSync(r.Context(), src)
		if err != nil {
			s.writeError(w, err, "Failed to retrieve sync status")
			return
		}
		if ok {
			status.LastSync = &last
		}
		resp.Sources = append(resp.Sources, status)
	}

	queue, err := s.syncer.Queue(r.Context())
	if err != nil {
		s.writeError(w, err, "Failed to retrieve offline queue")
		return
	}
	resp.Queue = queue
	if resp.Queue == nil {
		resp.Queue = []model.QueuedAction{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleSync は取得元の同期を実行するハンドラーです。
// 一時的なエラーで同期がキューに積まれた場合は202を返します。
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	src, err := parseExternalSource(r)
	if err != nil {
		s.writeError(w, err, "Failed to sync")
		return
	}

	result, err := s.syncer.Sync(r.Context(), src)
	if result != nil && result.Queued {
		s.writeJSON(w, http.StatusAccepted, result)
		return
	}
	if err != nil {
		s.writeError(w, err, "Failed to sync")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleDisconnect は取得元を切断し、同期された課題を削除するハンドラーです。
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	src, err := parseExternalSource(r)
	if err != nil {
		s.writeError(w, err, "Failed to disconnect")
		return
	}

	removed, err := s.syncer.Disconnect(r.Context(), src)
	if err != nil {
		s.writeError(w, err, "Failed to disconnect")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// handleReplay はオフラインキューを再実行するハンドラーです。
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	result, err := s.syncer.Replay(r.Context())
	if err != nil {
		s.writeError(w, err, "Failed to replay offline queue")
		return
	}
	if result.Results == nil {
		result.Results = []*syncer.Result{}
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleNotifications はsince以降の通知を返すハンドラーです。
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeJSONError(w, "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		since = n
	}
	s.writeJSON(w, http.StatusOK, s.feed.Since(since))
}

// handleRevision は再描画の回数を返すハンドラーです。値が変わったらクライアントは再取得します。
func (s *Server) handleRevision(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]uint64{"revision": s.feed.Revision()})
}
