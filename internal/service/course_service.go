package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/pkg/config"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
)

// CreateCourseRequest holds the payload for adding a course.
type CreateCourseRequest struct {
	Code     string `json:"code" validate:"required,max=32"`
	Title    string `json:"title" validate:"required,max=120"`
	Credits  int    `json:"credits" validate:"gt=0"`
	Capacity int    `json:"capacity" validate:"gt=0"`
}

func (r *CreateCourseRequest) normalize() {
	r.Code = strings.TrimSpace(r.Code)
	r.Title = strings.TrimSpace(r.Title)
}

// UpdateCourseRequest holds the payload for replacing a course's fields.
type UpdateCourseRequest struct {
	Code     string `json:"code" validate:"required,max=32"`
	Title    string `json:"title" validate:"required,max=120"`
	Credits  int    `json:"credits" validate:"gt=0"`
	Capacity int    `json:"capacity" validate:"gt=0"`
}

func (r *UpdateCourseRequest) normalize() {
	r.Code = strings.TrimSpace(r.Code)
	r.Title = strings.TrimSpace(r.Title)
}

// CourseService is the course directory: it keeps course codes unique and
// never lets a capacity drop below the seats already taken.
type CourseService struct {
	tx           txRunner
	courses      courseStore
	enrollments  enrollmentStore
	cache        *CacheService
	metrics      *MetricsService
	deletePolicy string
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(tx txRunner, courses courseStore, enrollments enrollmentStore, cache *CacheService, metrics *MetricsService, deletePolicy string, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deletePolicy != config.DeletePolicyRestrict {
		deletePolicy = config.DeletePolicyCascade
	}
	return &CourseService{
		tx:           tx,
		courses:      courses,
		enrollments:  enrollments,
		cache:        cache,
		metrics:      metrics,
		deletePolicy: deletePolicy,
		validator:    validate,
		logger:       logger,
	}
}

// Get returns a course by ID.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	id = strings.TrimSpace(id)
	if !knownID(id) {
		return nil, appErrors.NotFound("course", id)
	}
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.NotFound("course", id)
		}
		return nil, storeError(err, "failed to load course")
	}
	return course, nil
}

// Create adds a course after checking that its code is free.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	req.normalize()
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid course payload")
	}

	course := &models.Course{
		Code:     req.Code,
		Title:    req.Title,
		Credits:  req.Credits,
		Capacity: req.Capacity,
	}
	err := runInTx(ctx, s.tx, s.metrics, "course.create", func(ctx context.Context, tx *sqlx.Tx) error {
		exists, err := s.courses.ExistsByCode(ctx, tx, course.Code, "")
		if err != nil {
			return err
		}
		if exists {
			return appErrors.Duplicate("code", course.Code)
		}
		return s.courses.Create(ctx, tx, course)
	})
	if err != nil {
		if dup := duplicateFromStore(err, course.Code, ""); dup != nil {
			err = dup
		}
		err = storeError(err, "failed to create course")
		logFailure(ctx, s.logger, "course.create", err, zap.String("code", course.Code))
		return nil, err
	}

	s.logger.Info("course created", zap.String("course_id", course.ID), zap.String("code", course.Code), zap.Int("capacity", course.Capacity))
	s.invalidateCatalogue(ctx)
	return course, nil
}

// Update replaces the mutable fields of a course. The row stays locked
// between the enrolled-count read and the write.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest) (*models.Course, error) {
	id = strings.TrimSpace(id)
	req.normalize()
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid course payload")
	}
	if !knownID(id) {
		return nil, appErrors.NotFound("course", id)
	}

	var updated *models.Course
	err := runInTx(ctx, s.tx, s.metrics, "course.update", func(ctx context.Context, tx *sqlx.Tx) error {
		current, err := s.courses.LockByID(ctx, tx, id)
		if err != nil {
			if isNoRows(err) {
				return appErrors.NotFound("course", id)
			}
			return err
		}
		if current.Code != req.Code {
			exists, err := s.courses.ExistsByCode(ctx, tx, req.Code, id)
			if err != nil {
				return err
			}
			if exists {
				return appErrors.Duplicate("code", req.Code)
			}
		}
		if req.Capacity < current.Capacity {
			enrolled, err := s.enrollments.CountByCourse(ctx, tx, id, "")
			if err != nil {
				return err
			}
			if req.Capacity < enrolled {
				capErr := appErrors.CapacityExceeded(id, enrolled, req.Capacity)
				capErr.Message = fmt.Sprintf("capacity %d is below the %d enrolled students", req.Capacity, enrolled)
				return capErr
			}
		}

		current.Code = req.Code
		current.Title = req.Title
		current.Credits = req.Credits
		current.Capacity = req.Capacity
		if err := s.courses.Update(ctx, tx, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		if dup := duplicateFromStore(err, req.Code, ""); dup != nil {
			err = dup
		}
		err = storeError(err, "failed to update course")
		logFailure(ctx, s.logger, "course.update", err, zap.String("course_id", id))
		return nil, err
	}

	s.invalidateCatalogue(ctx)
	return updated, nil
}

// Delete removes a course. Unknown IDs are ignored. Under the cascade policy
// the course disappears from every enrollment set in the same transaction;
// under restrict the delete is refused while any student holds the course.
func (s *CourseService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if !knownID(id) {
		return nil
	}

	var removed int64
	var released int64
	err := runInTx(ctx, s.tx, s.metrics, "course.delete", func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := s.courses.LockByID(ctx, tx, id); err != nil {
			if isNoRows(err) {
				return nil
			}
			return err
		}
		if s.deletePolicy == config.DeletePolicyRestrict {
			enrolled, err := s.enrollments.CountByCourse(ctx, tx, id, "")
			if err != nil {
				return err
			}
			if enrolled > 0 {
				return appErrors.Conflict(id, enrolled)
			}
		}
		var err error
		if released, err = s.enrollments.DeleteByCourse(ctx, tx, id); err != nil {
			return err
		}
		removed, err = s.courses.Delete(ctx, tx, id)
		return err
	})
	if err != nil {
		err = storeError(err, "failed to delete course")
		logFailure(ctx, s.logger, "course.delete", err, zap.String("course_id", id))
		return err
	}

	if removed > 0 {
		s.logger.Info("course deleted", zap.String("course_id", id), zap.Int64("released_seats", released))
		s.invalidateCatalogue(ctx)
	}
	return nil
}

// EnrolledCount returns the number of students holding the course, 0 for unknown IDs.
func (s *CourseService) EnrolledCount(ctx context.Context, id string) (int, error) {
	id = strings.TrimSpace(id)
	if !knownID(id) {
		return 0, nil
	}
	count, err := s.enrollments.CountForCourse(ctx, id)
	if err != nil {
		return 0, storeError(err, "failed to count enrollments")
	}
	return count, nil
}

func (s *CourseService) invalidateCatalogue(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, courseCachePattern)
}
