// Package classroom は、Google Classroom APIから課題を取得するアダプターを提供します。
package classroom

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/classroom/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/stsysd/studyflow/model"
	"github.com/stsysd/studyflow/source"
)

// 課題を取り込むコースと課題の状態
const (
	courseStateActive   = "ACTIVE"
	courseWorkPublished = "PUBLISHED"
)

// Config はClassroomアダプターの設定です。
type Config struct {
	// Endpoint はAPIのベースURLです。空の場合はGoogleの既定値です。
	Endpoint string
	// Location は期限を分割するタイムゾーンです。nilの場合はtime.Localです。
	Location *time.Location
	// Retry は一時的なエラーの再試行ポリシーです。
	Retry source.RetryPolicy
	// Concurrency はコースごとの取得を同時に実行する数です。
	Concurrency int
	// SkipSubmissions がtrueの場合、提出状態を取得しません。
	SkipSubmissions bool
}

// Adapter はGoogle Classroomの課題を取得するsource.Adapterの実装です。
type Adapter struct {
	svc         *classroom.Service
	loc         *time.Location
	retry       source.RetryPolicy
	concurrency int
	submissions bool
	logger      *zap.Logger
	now         func() time.Time
}

var _ source.Adapter = (*Adapter)(nil)

// New は新しいAdapterを作成します。clientには認証済みのHTTPクライアントを渡します（NewHTTPClientを参照）。
func New(ctx context.Context, cfg Config, client *http.Client, logger *zap.Logger) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("classroom: http client is required")
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(cfg.Endpoint, "/")+"/"))
	}
	svc, err := classroom.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Adapter{
		svc:         svc,
		loc:         loc,
		retry:       cfg.Retry,
		concurrency: cfg.Concurrency,
		submissions: !cfg.SkipSubmissions,
		logger:      logger.With(zap.String("source", string(model.SourceGoogle))),
		now:         time.Now,
	}, nil
}

// Source はmodel.SourceGoogleを返します。
func (a *Adapter) Source() model.Source {
	return model.SourceGoogle
}

// Fetch は有効なすべてのコースの公開済み課題を取得します。
func (a *Adapter) Fetch(ctx context.Context) (*source.Batch, error) {
	var upstream []*classroom.Course
	err := a.call(ctx, func(ctx context.Context) error {
		upstream = nil
		return a.svc.Courses.List().
			CourseStates(courseStateActive).
			PageSize(100).
			Pages(ctx, func(resp *classroom.ListCoursesResponse) error {
				upstream = append(upstream, resp.Courses...)
				return nil
			})
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*classroom.Course, len(upstream))
	courses := make([]source.Course, 0, len(upstream))
	for _, c := range upstream {
		byID[c.Id] = c
		courses = append(courses, source.Course{ID: c.Id, Name: c.Name})
	}
	a.logger.Debug("fetched courses", zap.Int("count", len(courses)))

	syncedAt := a.now()
	return source.FetchCourses(ctx, model.SourceGoogle, courses, a.concurrency, a.logger,
		func(ctx context.Context, c source.Course) ([]*model.Assignment, error) {
			return a.fetchCourse(ctx, byID[c.ID], syncedAt)
		})
}

func (a *Adapter) fetchCourse(ctx context.Context, c *classroom.Course, syncedAt time.Time) ([]*model.Assignment, error) {
	var work []*classroom.CourseWork
	err := a.call(ctx, func(ctx context.Context) error {
		work = nil
		return a.svc.Courses.CourseWork.List(c.Id).
			CourseWorkStates(courseWorkPublished).
			PageSize(100).
			Pages(ctx, func(resp *classroom.ListCourseWorkResponse) error {
				work = append(work, resp.CourseWork...)
				return nil
			})
	})
	if err != nil {
		return nil, err
	}

	turnedIn := map[string]bool{}
	if a.submissions && len(work) > 0 {
		turnedIn, err = a.turnedIn(ctx, c.Id)
		if err != nil {
			// 提出状態は補助情報なので、取得できなくても課題は取り込む
			a.logger.Warn("failed to fetch submissions", zap.String("course_id", c.Id), zap.Error(err))
			turnedIn = map[string]bool{}
		}
	}

	var out []*model.Assignment
	for _, w := range work {
		if item, ok := a.normalize(c, w, turnedIn[w.Id], syncedAt); ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// turnedIn は提出済みの課題IDを返します。
func (a *Adapter) turnedIn(ctx context.Context, courseID string) (map[string]bool, error) {
	done := map[string]bool{}
	err := a.call(ctx, func(ctx context.Context) error {
		clear(done)
		return a.svc.Courses.CourseWork.StudentSubmissions.List(courseID, "-").
			UserId("me").
			States("TURNED_IN", "RETURNED").
			Pages(ctx, func(resp *classroom.ListStudentSubmissionsResponse) error {
				for _, s := range resp.StudentSubmissions {
					done[s.CourseWorkId] = true
				}
				return nil
			})
	})
	return done, err
}

// normalize はClassroomの課題をAssignmentに変換します。
// 期限がない課題と公開されていない課題は取り込みません。
// 期限時刻がない場合はDueTimeを空のままにします（23:59とみなされます）。
func (a *Adapter) normalize(c *classroom.Course, w *classroom.CourseWork, completed bool, syncedAt time.Time) (*model.Assignment, bool) {
	if w.DueDate == nil || w.DueDate.Year == 0 || w.DueDate.Month == 0 || w.DueDate.Day == 0 {
		return nil, false
	}
	if w.State != "" && w.State != courseWorkPublished {
		return nil, false
	}
	title := strings.TrimSpace(w.Title)
	if title == "" {
		return nil, false
	}

	var date, clock string
	if w.DueTime != nil {
		// ClassroomのdueDateとdueTimeはUTC
		due := time.Date(int(w.DueDate.Year), time.Month(w.DueDate.Month), int(w.DueDate.Day),
			int(w.DueTime.Hours), int(w.DueTime.Minutes), 0, 0, time.UTC)
		date, clock = model.SplitDue(due, a.loc)
	} else {
		date = time.Date(int(w.DueDate.Year), time.Month(w.DueDate.Month), int(w.DueDate.Day), 0, 0, 0, 0, time.UTC).
			Format(model.DateLayout)
	}

	synced := syncedAt
	return &model.Assignment{
		ID:          model.ExternalID(model.SourceGoogle, w.Id),
		Title:       title,
		Description: source.StripHTML(w.Description),
		DueDate:     date,
		DueTime:     clock,
		Completed:   completed,
		Source:      model.SourceGoogle,
		CourseName:  c.Name,
		CourseID:    c.Id,
		Subject:     c.Section,
		CustomColor: model.CourseColor(c.Name),
		URL:         w.AlternateLink,
		Points:      w.MaxPoints,
		CreatedAt:   syncedAt,
		LastSync:    &synced,
	}, true
}

// call は再試行つきでAPIを呼び出し、エラーをsource.Errorに変換します。
func (a *Adapter) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return source.Retry(ctx, a.retry, a.logger, func(ctx context.Context) error {
		return classify(ctx, fn(ctx))
	})
}

// classify はGoogle APIのエラーを分類します。
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		message := gerr.Message
		if message == "" {
			message = http.StatusText(gerr.Code)
		}
		return source.NewStatusError(model.SourceGoogle, gerr.Code, message)
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		e := &source.Error{Source: model.SourceGoogle, Kind: source.KindAuth, Err: err}
		if rerr.Response != nil {
			e.Status = rerr.Response.StatusCode
		}
		return e
	}
	return source.NewNetworkError(model.SourceGoogle, err)
}
