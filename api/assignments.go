package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/stsysd/studyflow/model"
)

// AssignmentResponse は課題に表示用の派生値を加えたレスポンスです。
type AssignmentResponse struct {
	*model.Assignment
	Category          model.Category `json:"category"`
	EffectivePriority model.Priority `json:"effective_priority"`
	DisplayColor      string         `json:"display_color"`
	CourseColor       string         `json:"course_color,omitempty"`
	Editable          bool           `json:"editable"`
	// ClassName は課題が属するクラスの名前です。
	ClassName string `json:"class_name,omitempty"`
}

func (s *Server) newAssignmentResponse(ctx context.Context, a *model.Assignment, now time.Time) AssignmentResponse {
	resp := AssignmentResponse{
		Assignment:        a,
		Category:          model.CategoryFor(a, now),
		EffectivePriority: model.EffectivePriority(a, now),
		DisplayColor:      a.Color(),
		Editable:          a.Editable(),
	}
	if a.CourseName != "" {
		resp.CourseColor = model.CourseColor(a.CourseName)
	}
	if c, ok := s.tracker.ClassForAssignment(ctx, a); ok {
		resp.ClassName = c.Name
	}
	return resp
}

// ListAssignmentsParams represents parameters for listing assignments.
type ListAssignmentsParams struct {
	Query     string
	Threshold int
	ClassID   string
	Source    model.Source
	Category  model.Category
	Completed *bool
}

// NewListAssignmentsParams creates parameters for assignment listing from HTTP request.
func NewListAssignmentsParams(r *http.Request) (*ListAssignmentsParams, error) {
	query := r.URL.Query()
	params := &ListAssignmentsParams{
		Query:    query.Get("q"),
		ClassID:  query.Get("class_id"),
		Category: model.Category(query.Get("category")),
	}

	if v := query.Get("threshold"); v != "" {
		threshold, err := strconv.Atoi(v)
		if err != nil || threshold < 0 || threshold > 100 {
			return nil, fmt.Errorf("threshold must be an integer between 0 and 100")
		}
		params.Threshold = threshold
	}

	if v := query.Get("source"); v != "" {
		src, err := model.ParseSource(v)
		if err != nil {
			return nil, err
		}
		params.Source = src
	}

	if params.Category != "" && !lo.Contains(model.Categories, params.Category) {
		return nil, fmt.Errorf("unknown category %q", params.Category)
	}

	if v := query.Get("completed"); v != "" {
		completed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("completed must be a boolean")
		}
		params.Completed = &completed
	}

	return params, nil
}

// SearchResponse は検索結果の1件です。
type SearchResponse struct {
	AssignmentResponse
	Score int `json:"score"`
}

// handleListAssignments は課題一覧を返すハンドラーです。qが指定された場合はあいまい検索の結果を返します。
func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	params, err := NewListAssignmentsParams(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	now := s.tracker.Now()

	if params.Query != "" {
		results := s.tracker.Search(params.Query, params.Threshold)
		out := []SearchResponse{}
		for _, res := range results {
			view := s.newAssignmentResponse(r.Context(), res.Assignment, now)
			if params.matches(view) {
				out = append(out, SearchResponse{AssignmentResponse: view, Score: res.Score})
			}
		}
		s.writeJSON(w, http.StatusOK, out)
		return
	}

	var assignments []*model.Assignment
	if params.ClassID != "" {
		assignments, err = s.tracker.AssignmentsForClass(r.Context(), params.ClassID)
		if err != nil {
			s.writeError(w, err, "Failed to list assignments")
			return
		}
	} else {
		assignments = s.tracker.Assignments()
	}

	out := []AssignmentResponse{}
	for _, a := range assignments {
		view := s.newAssignmentResponse(r.Context(), a, now)
		if params.matches(view) {
			out = append(out, view)
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (p *ListAssignmentsParams) matches(v AssignmentResponse) bool {
	if p.Source != "" && v.Source != p.Source {
		return false
	}
	if p.Category != "" && v.Category != p.Category {
		return false
	}
	if p.Completed != nil && v.Completed != *p.Completed {
		return false
	}
	return true
}

// handleCreateAssignment は手動課題の作成エンドポイントのハンドラーです。
func (s *Server) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	var in model.AssignmentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	a, err := s.tracker.CreateAssignment(r.Context(), in)
	if err != nil {
		s.writeError(w, err, "Failed to create assignment")
		return
	}
	s.writeJSON(w, http.StatusCreated, s.newAssignmentResponse(r.Context(), a, s.tracker.Now()))
}

// handleGetAssignment は特定のIDの課題を取得するハンドラーです。
func (s *Server) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := s.tracker.Assignment(r.PathValue("assignment_id"))
	if err != nil {
		s.writeError(w, err, "Failed to retrieve assignment")
		return
	}
	s.writeJSON(w, http.StatusOK, s.newAssignmentResponse(r.Context(), a, s.tracker.Now()))
}

// handleUpdateAssignment は手動課題を更新するハンドラーです。同期された課題は403を返します。
func (s *Server) handleUpdateAssignment(w http.ResponseWriter, r *http.Request) {
	var in model.AssignmentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	a, err := s.tracker.UpdateAssignment(r.Context(), r.PathValue("assignment_id"), in)
	if err != nil {
		s.writeError(w, err, "Failed to update assignment")
		return
	}
	s.writeJSON(w, http.StatusOK, s.newAssignmentResponse(r.Context(), a, s.tracker.Now()))
}

// handleDeleteAssignment は手動課題を削除するハンドラーです。同期された課題は403を返します。
func (s *Server) handleDeleteAssignment(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.DeleteAssignment(r.Context(), r.PathValue("assignment_id")); err != nil {
		s.writeError(w, err, "Failed to delete assignment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleToggleAssignment は課題の完了状態を切り替えるハンドラーです。
func (s *Server) handleToggleAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := s.tracker.ToggleCompleted(r.Context(), r.PathValue("assignment_id"))
	if err != nil {
		s.writeError(w, err, "Failed to update assignment")
		return
	}
	s.writeJSON(w, http.StatusOK, s.newAssignmentResponse(r.Context(), a, s.tracker.Now()))
}
