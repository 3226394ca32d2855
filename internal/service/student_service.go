package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/pkg/config"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
)

// CreateStudentRequest holds payload for creating students.
type CreateStudentRequest struct {
	Matricola string `json:"matricola" validate:"required,max=32"`
	FullName  string `json:"full_name" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,max=120"`
}

func (r *CreateStudentRequest) normalize() {
	r.Matricola = strings.TrimSpace(r.Matricola)
	r.FullName = strings.TrimSpace(r.FullName)
	r.Email = strings.TrimSpace(r.Email)
}

// UpdateStudentRequest holds payload for updating a student's own fields.
type UpdateStudentRequest struct {
	Matricola string `json:"matricola" validate:"required,max=32"`
	FullName  string `json:"full_name" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,max=120"`
}

func (r *UpdateStudentRequest) normalize() {
	r.Matricola = strings.TrimSpace(r.Matricola)
	r.FullName = strings.TrimSpace(r.FullName)
	r.Email = strings.TrimSpace(r.Email)
}

// StudentService is the student directory.
type StudentService struct {
	tx           txRunner
	students     studentStore
	enrollments  enrollmentStore
	cache        *CacheService
	metrics      *MetricsService
	deletePolicy string
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(tx txRunner, students studentStore, enrollments enrollmentStore, cache *CacheService, metrics *MetricsService, deletePolicy string, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deletePolicy != config.DeletePolicyRestrict {
		deletePolicy = config.DeletePolicyCascade
	}
	return &StudentService{
		tx:           tx,
		students:     students,
		enrollments:  enrollments,
		cache:        cache,
		metrics:      metrics,
		deletePolicy: deletePolicy,
		validator:    validate,
		logger:       logger,
	}
}

// Get returns a student together with the enrolled course IDs.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	id = strings.TrimSpace(id)
	if !knownID(id) {
		return nil, appErrors.NotFound("student", id)
	}
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.NotFound("student", id)
		}
		return nil, storeError(err, "failed to load student")
	}
	sets, err := s.enrollments.ListByStudents(ctx, []string{student.ID})
	if err != nil {
		return nil, storeError(err, "failed to load student enrollments")
	}
	return newStudentDetail(student, sets[student.ID]), nil
}

// Create adds a student with an empty enrollment set.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.StudentDetail, error) {
	req.normalize()
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}

	student := &models.Student{Matricola: req.Matricola, FullName: req.FullName, Email: req.Email}
	err := runInTx(ctx, s.tx, s.metrics, "student.create", func(ctx context.Context, tx *sqlx.Tx) error {
		return insertStudent(ctx, tx, s.students, student)
	})
	if err != nil {
		if dup := duplicateFromStore(err, "", student.Matricola); dup != nil {
			err = dup
		}
		err = storeError(err, "failed to create student")
		logFailure(ctx, s.logger, "student.create", err, zap.String("matricola", student.Matricola))
		return nil, err
	}
	s.logger.Info("student created", zap.String("student_id", student.ID), zap.String("matricola", student.Matricola))
	return newStudentDetail(student, nil), nil
}

// UpdateFields changes matricola, name and email. The enrollment set is untouched.
func (s *StudentService) UpdateFields(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	id = strings.TrimSpace(id)
	req.normalize()
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}
	if !knownID(id) {
		return nil, appErrors.NotFound("student", id)
	}

	var updated *models.Student
	err := runInTx(ctx, s.tx, s.metrics, "student.update", func(ctx context.Context, tx *sqlx.Tx) error {
		student, err := updateStudent(ctx, tx, s.students, id, req)
		if err != nil {
			return err
		}
		updated = student
		return nil
	})
	if err != nil {
		if dup := duplicateFromStore(err, "", req.Matricola); dup != nil {
			err = dup
		}
		err = storeError(err, "failed to update student")
		logFailure(ctx, s.logger, "student.update", err, zap.String("student_id", id))
		return nil, err
	}
	return updated, nil
}

// Delete removes a student and its enrollments. Unknown IDs are ignored.
// Under the restrict policy a student holding any course is kept.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if !knownID(id) {
		return nil
	}

	var released int64
	var removed int64
	err := runInTx(ctx, s.tx, s.metrics, "student.delete", func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := s.students.LockByID(ctx, tx, id); err != nil {
			if isNoRows(err) {
				return nil
			}
			return err
		}
		if s.deletePolicy == config.DeletePolicyRestrict {
			ids, err := s.enrollments.CourseIDs(ctx, tx, id)
			if err != nil {
				return err
			}
			if len(ids) > 0 {
				return appErrors.StudentConflict(id, len(ids))
			}
		}
		var err error
		if released, err = s.enrollments.DeleteByStudent(ctx, tx, id); err != nil {
			return err
		}
		removed, err = s.students.Delete(ctx, tx, id)
		return err
	})
	if err != nil {
		err = storeError(err, "failed to delete student")
		logFailure(ctx, s.logger, "student.delete", err, zap.String("student_id", id))
		return err
	}
	if removed > 0 {
		s.logger.Info("student deleted", zap.String("student_id", id), zap.Int64("released_seats", released))
	}
	if released > 0 {
		_ = s.cache.Invalidate(ctx, courseCachePattern)
	}
	return nil
}

func insertStudent(ctx context.Context, tx *sqlx.Tx, store studentStore, student *models.Student) error {
	exists, err := store.ExistsByMatricola(ctx, tx, student.Matricola, "")
	if err != nil {
		return err
	}
	if exists {
		return appErrors.Duplicate("matricola", student.Matricola)
	}
	return store.Create(ctx, tx, student)
}

// updateStudent locks the student row and writes the new fields. The lock is
// kept so callers can go on to change the enrollment set in the same tx.
func updateStudent(ctx context.Context, tx *sqlx.Tx, store studentStore, id string, req UpdateStudentRequest) (*models.Student, error) {
	if !knownID(id) {
		return nil, appErrors.NotFound("student", id)
	}
	student, err := store.LockByID(ctx, tx, id)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.NotFound("student", id)
		}
		return nil, err
	}
	if student.Matricola != req.Matricola {
		exists, err := store.ExistsByMatricola(ctx, tx, req.Matricola, id)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, appErrors.Duplicate("matricola", req.Matricola)
		}
	}
	student.Matricola = req.Matricola
	student.FullName = req.FullName
	student.Email = req.Email
	if err := store.Update(ctx, tx, student); err != nil {
		return nil, err
	}
	return student, nil
}

func newStudentDetail(student *models.Student, courseIDs []string) *models.StudentDetail {
	if courseIDs == nil {
		courseIDs = []string{}
	}
	return &models.StudentDetail{Student: *student, CourseIDs: courseIDs}
}
