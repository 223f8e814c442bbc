package source

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stsysd/studyflow/model"
)

// DefaultConcurrency はコースごとの取得を同時に実行する数です。
const DefaultConcurrency = 4

// Course は取得対象のコースです。
type Course struct {
	ID   string
	Name string
}

// FetchCourseFunc は1つのコースの課題を取得します。
type FetchCourseFunc func(ctx context.Context, course Course) ([]*model.Assignment, error)

// FetchCourses はコースごとの取得を並行に実行し、結果をコースの順に連結します。
// 失敗したコースはFailuresに記録して残りを続けます。
// ただし、すべてのコースが失敗した場合は最初のエラーを返します。
// 空のバッチで取得元の課題がすべて消えるのを防ぐためです。
func FetchCourses(ctx context.Context, src model.Source, courses []Course, limit int, logger *zap.Logger, fetch FetchCourseFunc) (*Batch, error) {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	results := make([][]*model.Assignment, len(courses))
	errs := make([]error, len(courses))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, course := range courses {
		g.Go(func() error {
			items, err := fetch(gctx, course)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				errs[i] = err
				return nil
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch := &Batch{
		Source:      src,
		Assignments: []*model.Assignment{},
		Courses:     len(courses),
	}
	for i, course := range courses {
		if errs[i] != nil {
			logger.Warn("failed to fetch course assignments",
				zap.String("source", string(src)),
				zap.String("course_id", course.ID),
				zap.String("course_name", course.Name),
				zap.Error(errs[i]),
			)
			batch.Failures = append(batch.Failures, CourseFailure{
				CourseID:   course.ID,
				CourseName: course.Name,
				Err:        errs[i],
			})
			continue
		}
		batch.Assignments = append(batch.Assignments, results[i]...)
	}

	if len(courses) > 0 && len(batch.Failures) == len(courses) {
		return nil, errors.Join(batch.Failures[0].Err, errAllCoursesFailed)
	}
	return batch, nil
}

var errAllCoursesFailed = errors.New("all courses failed")
