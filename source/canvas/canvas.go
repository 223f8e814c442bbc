// Package canvas は、Canvas LMSのREST APIから課題を取得するアダプターを提供します。
package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stsysd/studyflow/model"
	"github.com/stsysd/studyflow/source"
)

// Config はCanvasアダプターの設定です。
type Config struct {
	// BaseURL はCanvasインスタンスのURLです（例: https://school.instructure.com）。
	BaseURL string
	// Token はCanvasのアクセストークンです。
	Token string
	// Location は期限を分割するタイムゾーンです。nilの場合はtime.Localです。
	Location *time.Location
	// Retry は一時的なエラーの再試行ポリシーです。
	Retry source.RetryPolicy
	// Concurrency はコースごとの取得を同時に実行する数です。
	Concurrency int
}

// Adapter はCanvasの課題を取得するsource.Adapterの実装です。
type Adapter struct {
	baseURL     *url.URL
	token       string
	client      *http.Client
	loc         *time.Location
	retry       source.RetryPolicy
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

var _ source.Adapter = (*Adapter)(nil)

// New は新しいAdapterを作成します。clientがnilの場合は既定のHTTPクライアントを使います。
func New(cfg Config, client *http.Client, logger *zap.Logger) (*Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, model.NewValidationError("canvas_url", "is required")
	}
	if cfg.Token == "" {
		return nil, model.NewValidationError("canvas_token", "is required")
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, model.NewValidationError("canvas_url", "must be an absolute URL")
	}
	if client == nil {
		client = source.NewHTTPClient(source.HTTPOptions{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Adapter{
		baseURL:     u,
		token:       cfg.Token,
		client:      client,
		loc:         loc,
		retry:       cfg.Retry,
		concurrency: cfg.Concurrency,
		logger:      logger.With(zap.String("source", string(model.SourceCanvas))),
		now:         time.Now,
	}, nil
}

// Source はmodel.SourceCanvasを返します。
func (a *Adapter) Source() model.Source {
	return model.SourceCanvas
}

// User は接続確認で得られるCanvasのユーザー情報です。
type User struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
	LoginID   string `json:"login_id"`
	Email     string `json:"email"`
}

// Verify はトークンが有効かどうかを確認し、ログイン中のユーザーを返します。
func (a *Adapter) Verify(ctx context.Context) (*User, error) {
	var user User
	if _, err := a.getJSON(ctx, a.endpoint("/api/v1/users/self", nil), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Fetch は有効なすべてのコースの課題を取得します。
func (a *Adapter) Fetch(ctx context.Context) (*source.Batch, error) {
	q := url.Values{}
	q.Set("enrollment_state", "active")
	q.Set("per_page", "100")

	var upstream []course
	if err := a.getPages(ctx, a.endpoint("/api/v1/courses", q), func(body []byte) error {
		var page []course
		if err := json.Unmarshal(body, &page); err != nil {
			return err
		}
		upstream = append(upstream, page...)
		return nil
	}); err != nil {
		return nil, err
	}

	names := make(map[string]course, len(upstream))
	courses := make([]source.Course, 0, len(upstream))
	for _, c := range upstream {
		id := strconv.FormatInt(c.ID, 10)
		names[id] = c
		courses = append(courses, source.Course{ID: id, Name: c.Name})
	}
	a.logger.Debug("fetched courses", zap.Int("count", len(courses)))

	syncedAt := a.now()
	return source.FetchCourses(ctx, model.SourceCanvas, courses, a.concurrency, a.logger,
		func(ctx context.Context, c source.Course) ([]*model.Assignment, error) {
			return a.fetchCourse(ctx, names[c.ID], syncedAt)
		})
}

func (a *Adapter) fetchCourse(ctx context.Context, c course, syncedAt time.Time) ([]*model.Assignment, error) {
	q := url.Values{}
	q.Add("include[]", "submission")
	q.Set("per_page", "100")
	path := fmt.Sprintf("/api/v1/courses/%d/assignments", c.ID)

	var out []*model.Assignment
	err := a.getPages(ctx, a.endpoint(path, q), func(body []byte) error {
		var page []assignment
		if err := json.Unmarshal(body, &page); err != nil {
			return err
		}
		for _, raw := range page {
			if item, ok := a.normalize(c, raw, syncedAt); ok {
				out = append(out, item)
			}
		}
		return nil
	})
	return out, err
}

// normalize はCanvasの課題をAssignmentに変換します。
// 期限のない課題と非公開の課題は取り込みません。
func (a *Adapter) normalize(c course, raw assignment, syncedAt time.Time) (*model.Assignment, bool) {
	if raw.DueAt == nil || raw.DueAt.IsZero() {
		return nil, false
	}
	if raw.Published != nil && !*raw.Published {
		return nil, false
	}
	title := strings.TrimSpace(raw.Name)
	if title == "" {
		return nil, false
	}

	date, clock := model.SplitDue(*raw.DueAt, a.loc)
	synced := syncedAt
	item := &model.Assignment{
		ID:          model.ExternalID(model.SourceCanvas, strconv.FormatInt(raw.ID, 10)),
		Title:       title,
		Description: source.StripHTML(raw.Description),
		DueDate:     date,
		DueTime:     clock,
		Completed:   raw.Submission.turnedIn(),
		Source:      model.SourceCanvas,
		CourseName:  c.Name,
		CourseID:    strconv.FormatInt(c.ID, 10),
		Subject:     c.CourseCode,
		CustomColor: model.CourseColor(c.Name),
		URL:         raw.HTMLURL,
		CreatedAt:   syncedAt,
		LastSync:    &synced,
	}
	if raw.PointsPossible != nil {
		item.Points = *raw.PointsPossible
	}
	return item, true
}

func (a *Adapter) endpoint(path string, q url.Values) string {
	u := *a.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// maxPages は1つの一覧でたどるページ数の上限です。
const maxPages = 100

// getPages はLinkヘッダーのrel="next"をたどり、各ページの本文をfnに渡します。
// トークンを送るのはbaseURLと同じホストだけです。
func (a *Adapter) getPages(ctx context.Context, next string, fn func(body []byte) error) error {
	for page := 0; next != ""; page++ {
		if page >= maxPages {
			return &source.Error{Source: model.SourceCanvas, Kind: source.KindAPI, Err: fmt.Errorf("pagination exceeded %d pages", maxPages)}
		}
		if err := a.checkHost(next); err != nil {
			return err
		}
		var body []byte
		header, err := a.get(ctx, next, &body)
		if err != nil {
			return err
		}
		if err := fn(body); err != nil {
			return &source.Error{Source: model.SourceCanvas, Kind: source.KindAPI, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
		next = nextLink(header.Get("Link"))
	}
	return nil
}

func (a *Adapter) checkHost(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return &source.Error{Source: model.SourceCanvas, Kind: source.KindAPI, Err: fmt.Errorf("invalid next link: %w", err)}
	}
	if u.Scheme != a.baseURL.Scheme || u.Host != a.baseURL.Host {
		return &source.Error{Source: model.SourceCanvas, Kind: source.KindAPI, Err: fmt.Errorf("next link points outside %s: %s", a.baseURL.Host, u.Host)}
	}
	return nil
}

func (a *Adapter) getJSON(ctx context.Context, target string, v any) (http.Header, error) {
	var body []byte
	header, err := a.get(ctx, target, &body)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return nil, &source.Error{Source: model.SourceCanvas, Kind: source.KindAPI, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return header, nil
}

// get は再試行つきでGETリクエストを送り、本文を読み込みます。
func (a *Adapter) get(ctx context.Context, target string, body *[]byte) (http.Header, error) {
	var header http.Header
	err := source.Retry(ctx, a.retry, a.logger, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+a.token)
		req.Header.Set("Accept", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return ctx.Err()
			}
			return source.NewNetworkError(model.SourceCanvas, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return source.NewNetworkError(model.SourceCanvas, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return source.NewStatusError(model.SourceCanvas, resp.StatusCode, errorMessage(data))
		}
		*body = data
		header = resp.Header
		return nil
	})
	return header, err
}

// errorMessage はCanvasのエラーレスポンスからメッセージを取り出します。
func errorMessage(body []byte) string {
	var resp struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	if len(resp.Errors) > 0 {
		return resp.Errors[0].Message
	}
	return resp.Message
}
