package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/models"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
)

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseSummary, int, error)
	FindByCode(ctx context.Context, code string) (*models.Course, error)
}

type studentReader interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByMatricola(ctx context.Context, matricola string) (*models.Student, error)
}

type enrollmentReader interface {
	IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
	ListByStudents(ctx context.Context, studentIDs []string) (map[string][]string, error)
}

// CourseListing is one cached page of the course catalogue.
type CourseListing struct {
	Courses    []models.CourseSummary `json:"courses"`
	Pagination models.Pagination      `json:"pagination"`
}

// QueryService serves read-only listings and lookups. It never mutates state.
type QueryService struct {
	courses     courseReader
	students    studentReader
	enrollments enrollmentReader
	cache       *CacheService
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// NewQueryService constructs QueryService.
func NewQueryService(courses courseReader, students studentReader, enrollments enrollmentReader, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger) *QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{courses: courses, students: students, enrollments: enrollments, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// ListCourses returns courses with their enrolled counts. Pages are cached
// when the cache is enabled; a cache outage falls back to the store.
func (s *QueryService) ListCourses(ctx context.Context, filter models.CourseFilter) ([]models.CourseSummary, *models.Pagination, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Page, filter.PageSize = normalizePagination(filter.Page, filter.PageSize)
	gen, genErr := s.cache.Generation(ctx, courseCachePattern)
	cacheable := genErr == nil
	key := courseListKey(gen, filter)

	var cached CourseListing
	if cacheable {
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return cached.Courses, &cached.Pagination, nil
		}
	}

	v, err := s.cache.Coalesce(key, func() (interface{}, error) {
		courses, total, err := s.courses.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		if courses == nil {
			courses = []models.CourseSummary{}
		}
		listing := CourseListing{
			Courses:    courses,
			Pagination: models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total},
		}
		if cacheable {
			_ = s.cache.Set(ctx, key, listing, s.cacheTTL)
		}
		return listing, nil
	})
	if err != nil {
		return nil, nil, storeError(err, "failed to list courses")
	}
	listing := v.(CourseListing)
	return listing.Courses, &listing.Pagination, nil
}

// ListStudents returns students with their enrollment sets.
func (s *QueryService) ListStudents(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	filter.CourseID = strings.TrimSpace(filter.CourseID)
	filter.Page, filter.PageSize = normalizePagination(filter.Page, filter.PageSize)
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}
	if filter.CourseID != "" && !knownID(filter.CourseID) {
		return []models.StudentDetail{}, pagination, nil
	}

	students, total, err := s.students.List(ctx, filter)
	if err != nil {
		return nil, nil, storeError(err, "failed to list students")
	}
	ids := make([]string, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.ID)
	}
	sets, err := s.enrollments.ListByStudents(ctx, ids)
	if err != nil {
		return nil, nil, storeError(err, "failed to list student enrollments")
	}

	result := make([]models.StudentDetail, 0, len(students))
	for i := range students {
		result = append(result, *newStudentDetail(&students[i], sets[students[i].ID]))
	}
	pagination.TotalCount = total
	return result, pagination, nil
}

// FindCourseByCode looks a course up by its unique code.
func (s *QueryService) FindCourseByCode(ctx context.Context, code string) (*models.Course, error) {
	code = strings.TrimSpace(code)
	course, err := s.courses.FindByCode(ctx, code)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.NotFound("course", code)
		}
		return nil, storeError(err, "failed to find course")
	}
	return course, nil
}

// FindStudentByMatricola looks a student up by matricola, with its courses.
func (s *QueryService) FindStudentByMatricola(ctx context.Context, matricola string) (*models.StudentDetail, error) {
	matricola = strings.TrimSpace(matricola)
	student, err := s.students.FindByMatricola(ctx, matricola)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.NotFound("student", matricola)
		}
		return nil, storeError(err, "failed to find student")
	}
	sets, err := s.enrollments.ListByStudents(ctx, []string{student.ID})
	if err != nil {
		return nil, storeError(err, "failed to load student enrollments")
	}
	return newStudentDetail(student, sets[student.ID]), nil
}

// IsEnrolled reports whether the student currently holds the course.
// Unknown IDs simply report false.
func (s *QueryService) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	studentID = strings.TrimSpace(studentID)
	courseID = strings.TrimSpace(courseID)
	if !knownID(studentID) || !knownID(courseID) {
		return false, nil
	}
	ok, err := s.enrollments.IsEnrolled(ctx, studentID, courseID)
	if err != nil {
		return false, storeError(err, "failed to check enrollment")
	}
	return ok, nil
}

// CourseRoster returns the course with all enrolled students ordered by matricola.
func (s *QueryService) CourseRoster(ctx context.Context, courseID string) (*models.CourseRoster, error) {
	courseID = strings.TrimSpace(courseID)
	if !knownID(courseID) {
		return nil, appErrors.NotFound("course", courseID)
	}
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.NotFound("course", courseID)
		}
		return nil, storeError(err, "failed to load course")
	}

	roster := &models.CourseRoster{Course: *course, Students: []models.Student{}}
	filter := models.StudentFilter{CourseID: course.ID, PageSize: rosterPageSize, SortBy: "matricola", SortOrder: "asc"}
	for filter.Page = 1; ; filter.Page++ {
		page, total, err := s.students.List(ctx, filter)
		if err != nil {
			return nil, storeError(err, "failed to load course roster")
		}
		roster.Students = append(roster.Students, page...)
		if len(page) == 0 || len(roster.Students) >= total {
			break
		}
	}
	return roster, nil
}

const rosterPageSize = 100

func courseListKey(gen int64, filter models.CourseFilter) string {
	return fmt.Sprintf("courses:list:g=%d:q=%s:open=%t:p=%d:s=%d:sort=%s:%s",
		gen, strings.ToLower(filter.Search), filter.OnlyOpen, filter.Page, filter.PageSize,
		strings.ToLower(filter.SortBy), strings.ToLower(filter.SortOrder))
}

func normalizePagination(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size
}
