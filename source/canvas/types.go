package canvas

import "time"

// course はCanvasのコースのレスポンスです。
type course struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	CourseCode string `json:"course_code"`
}

// assignment はCanvasの課題のレスポンスです。
type assignment struct {
	ID              int64       `json:"id"`
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	DueAt           *time.Time  `json:"due_at"`
	HTMLURL         string      `json:"html_url"`
	PointsPossible  *float64    `json:"points_possible"`
	Published       *bool       `json:"published"`
	SubmissionTypes []string    `json:"submission_types"`
	Submission      *submission `json:"submission"`
}

type submission struct {
	WorkflowState string     `json:"workflow_state"`
	SubmittedAt   *time.Time `json:"submitted_at"`
}

// turnedIn は提出済みかどうかを返します。
func (s *submission) turnedIn() bool {
	if s == nil {
		return false
	}
	switch s.WorkflowState {
	case "submitted", "graded", "pending_review":
		return true
	}
	return false
}
