package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stsysd/studyflow/model"
)

// ClassResponse はクラスに紐付く課題の件数を加えたレスポンスです。
type ClassResponse struct {
	*model.Class
	AssignmentCount int `json:"assignment_count"`
}

func (s *Server) newClassResponse(ctx context.Context, c *model.Class) ClassResponse {
	return ClassResponse{Class: c, AssignmentCount: s.tracker.AssignmentCount(ctx, c.ID)}
}

func (s *Server) classResponses(ctx context.Context, classes []*model.Class) []ClassResponse {
	out := make([]ClassResponse, 0, len(classes))
	for _, c := range classes {
		out = append(out, s.newClassResponse(ctx, c))
	}
	return out
}

// handleListClasses はクラス一覧を返すハンドラーです。
func (s *Server) handleListClasses(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.classResponses(r.Context(), s.tracker.Classes()))
}

// handleCreateClass はクラス作成エンドポイントのハンドラーです。
func (s *Server) handleCreateClass(w http.ResponseWriter, r *http.Request) {
	var in model.ClassInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	c, err := s.tracker.CreateClass(r.Context(), in)
	if err != nil {
		s.writeError(w, err, "Failed to create class")
		return
	}
	s.writeJSON(w, http.StatusCreated, s.newClassResponse(r.Context(), c))
}

// handleCreateClassFromAssignment は課題のコースからクラスを作成するハンドラーです。
func (s *Server) handleCreateClassFromAssignment(w http.ResponseWriter, r *http.Request) {
	c, err := s.tracker.CreateClassFromAssignment(r.Context(), r.PathValue("assignment_id"))
	if err != nil {
		s.writeError(w, err, "Failed to create class")
		return
	}
	s.writeJSON(w, http.StatusCreated, s.newClassResponse(r.Context(), c))
}

// handleGetClass は特定のIDのクラスを取得するハンドラーです。
func (s *Server) handleGetClass(w http.ResponseWriter, r *http.Request) {
	c, err := s.tracker.Class(r.PathValue("class_id"))
	if err != nil {
		s.writeError(w, err, "Failed to retrieve class")
		return
	}
	s.writeJSON(w, http.StatusOK, s.newClassResponse(r.Context(), c))
}

// handleDeleteClass はクラスを削除するハンドラーです。紐付いていた課題は残ります。
func (s *Server) handleDeleteClass(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.DeleteClass(r.Context(), r.PathValue("class_id")); err != nil {
		s.writeError(w, err, "Failed to delete class")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDetectClasses は課題のコースからクラスを自動作成するハンドラーです。
func (s *Server) handleDetectClasses(w http.ResponseWriter, r *http.Request) {
	created, err := s.tracker.AutoDetectClasses(r.Context())
	if err != nil {
		s.writeError(w, err, "Failed to detect classes")
		return
	}
	s.writeJSON(w, http.StatusOK, s.classResponses(r.Context(), created))
}

// handleResolveClasses はクラスの自動作成と課題の紐付けをまとめて行うハンドラーです。
func (s *Server) handleResolveClasses(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.ResolveClasses(r.Context()); err != nil {
		s.writeError(w, err, "Failed to resolve classes")
		return
	}
	s.writeJSON(w, http.StatusOK, s.classResponses(r.Context(), s.tracker.Classes()))
}
