// Package api はstudyflowのAPIサーバー実装を提供します。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stsysd/studyflow/config"
	"github.com/stsysd/studyflow/model"
	"github.com/stsysd/studyflow/source"
	"github.com/stsysd/studyflow/syncer"
	"github.com/stsysd/studyflow/tracker"
)

// Server はAPIサーバーの構造体です。
type Server struct {
	router  *http.ServeMux
	tracker *tracker.Tracker
	syncer  *syncer.Syncer
	feed    *Feed
	config  *config.Config
	logger  *zap.Logger
}

// ErrorResponse はエラーレスポンスの構造体です。
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// writeJSONError はJSON形式でエラーレスポンスを返却します。
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	resp := ErrorResponse{
		Error: message,
		Code:  statusCode,
	}
	json.NewEncoder(w).Encode(resp)
}

// writeJSON はvをJSON形式で返却します。
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

// writeError はエラーの種類に応じたステータスコードでエラーレスポンスを返却します。
// 分類できないエラーはログに記録し、fallbackのメッセージで500を返します。
func (s *Server) writeError(w http.ResponseWriter, err error, fallback string) {
	var serr *source.Error
	switch {
	case model.IsValidationError(err):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrReadOnlyAssignment):
		writeJSONError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, model.ErrAssignmentNotFound):
		writeJSONError(w, "Assignment not found", http.StatusNotFound)
	case errors.Is(err, model.ErrClassNotFound):
		writeJSONError(w, "Class not found", http.StatusNotFound)
	case errors.Is(err, syncer.ErrNotConfigured):
		writeJSONError(w, "Source is not configured", http.StatusNotFound)
	case errors.Is(err, model.ErrQuotaExceeded):
		writeJSONError(w, "Storage is full", http.StatusInsufficientStorage)
	case errors.As(err, &serr):
		status := http.StatusBadGateway
		if serr.Kind == source.KindTransient {
			status = http.StatusServiceUnavailable
		}
		writeJSONError(w, serr.Error(), status)
	default:
		s.logger.Error(fallback, zap.Error(err))
		writeJSONError(w, fallback, http.StatusInternalServerError)
	}
}

// NewServer は新しいAPIサーバーインスタンスを生成します。
// feedはtrackerの通知先と再描画先として登録されている必要があります。
func NewServer(tr *tracker.Tracker, sy *syncer.Syncer, feed *Feed, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if feed == nil {
		feed = NewFeed(DefaultFeedSize, nil)
	}
	s := &Server{
		router:  http.NewServeMux(),
		tracker: tr,
		syncer:  sy,
		feed:    feed,
		config:  cfg,
		logger:  logger,
	}
	s.routes()
	return s
}

// routes はAPIエンドポイントのルーティングを設定します。
func (s *Server) routes() {
	// ヘルスチェックエンドポイントは認証不要
	s.router.HandleFunc("GET /healthz", s.handleHealthCheck)

	securedHandler := http.NewServeMux()

	// Assignment endpoints
	securedHandler.HandleFunc("GET /api/v0/assignments", s.handleListAssignments)
	securedHandler.HandleFunc("POST /api/v0/assignments", s.handleCreateAssignment)
	securedHandler.HandleFunc("GET /api/v0/assignments/{assignment_id}", s.handleGetAssignment)
	securedHandler.HandleFunc("PUT /api/v0/assignments/{assignment_id}", s.handleUpdateAssignment)
	securedHandler.HandleFunc("DELETE /api/v0/assignments/{assignment_id}", s.handleDeleteAssignment)
	securedHandler.HandleFunc("POST /api/v0/assignments/{assignment_id}/toggle", s.handleToggleAssignment)
	securedHandler.HandleFunc("POST /api/v0/assignments/{assignment_id}/class", s.handleCreateClassFromAssignment)

	// Class endpoints
	securedHandler.HandleFunc("GET /api/v0/classes", s.handleListClasses)
	securedHandler.HandleFunc("POST /api/v0/classes", s.handleCreateClass)
	securedHandler.HandleFunc("POST /api/v0/classes/detect", s.handleDetectClasses)
	securedHandler.HandleFunc("POST /api/v0/classes/resolve", s.handleResolveClasses)
	securedHandler.HandleFunc("GET /api/v0/classes/{class_id}", s.handleGetClass)
	securedHandler.HandleFunc("DELETE /api/v0/classes/{class_id}", s.handleDeleteClass)

	// Sync endpoints
	securedHandler.HandleFunc("GET /api/v0/sync", s.handleSyncStatus)
	securedHandler.HandleFunc("POST /api/v0/sync/replay", s.handleReplay)
	securedHandler.HandleFunc("POST /api/v0/sync/{source}", s.handleSync)
	securedHandler.HandleFunc("DELETE /api/v0/sync/{source}", s.handleDisconnect)

	securedHandler.HandleFunc("GET /api/v0/stats", s.handleStats)
	securedHandler.HandleFunc("GET /api/v0/notifications", s.handleNotifications)
	securedHandler.HandleFunc("GET /api/v0/revision", s.handleRevision)

	// 認証ミドルウェアを適用し、メインルータにマウント
	s.router.Handle("/api/", s.authMiddleware(securedHandler))
}

// ServeHTTP はServer構造体をhttp.Handlerとして実装します。
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logMiddleware(s.router).ServeHTTP(w, r)
}

// handleHealthCheck はヘルスチェックエンドポイントのハンドラーです。
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats は課題の集計を返すハンドラーです。
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tracker.Stats())
}

// Run はaddrでサーバーを起動し、ctxがキャンセルされると停止します。
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
