package service

import (
	"context"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/models"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
)

const tracerName = "github.com/noah-isme/course-registration-api/internal/service"

// RegisterStudentRequest adds a student and optionally enrolls it in one course.
type RegisterStudentRequest struct {
	CreateStudentRequest
	CourseID string `json:"course_id" validate:"omitempty,max=64"`
}

// UpdateProfileRequest updates a student's fields and replaces its enrollment.
// An empty CourseID leaves the student without courses.
type UpdateProfileRequest struct {
	UpdateStudentRequest
	CourseID string `json:"course_id" validate:"omitempty,max=64"`
}

// EnrollmentService owns every mutation of the enrollment relation. Each call
// runs in one transaction holding the student row lock and then the course
// row lock, so the seat count read for the capacity check cannot change
// before commit.
type EnrollmentService struct {
	tx          txRunner
	students    studentStore
	courses     courseStore
	enrollments enrollmentStore
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(tx txRunner, students studentStore, courses courseStore, enrollments enrollmentStore, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		tx:          tx,
		students:    students,
		courses:     courses,
		enrollments: enrollments,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
	}
}

// Enroll adds courseID to the student's set. Enrolling twice is a no-op.
func (s *EnrollmentService) Enroll(ctx context.Context, studentID, courseID string) (*models.StudentDetail, error) {
	studentID = strings.TrimSpace(studentID)
	courseID = strings.TrimSpace(courseID)
	ctx, span := s.startSpan(ctx, "enrollment.enroll", studentID, courseID)
	defer span.End()
	if err := unknownIDs(studentID, courseID); err != nil {
		return nil, s.finish(ctx, span, "enroll", false, err)
	}

	var detail *models.StudentDetail
	changed := false
	err := runInTx(ctx, s.tx, s.metrics, "enrollment.enroll", func(ctx context.Context, tx *sqlx.Tx) error {
		student, err := s.lockStudent(ctx, tx, studentID)
		if err != nil {
			return err
		}
		course, err := s.lockCourse(ctx, tx, courseID)
		if err != nil {
			return err
		}
		ids, err := s.enrollments.CourseIDs(ctx, tx, student.ID)
		if err != nil {
			return err
		}
		if containsID(ids, course.ID) {
			detail = newStudentDetail(student, ids)
			return nil
		}
		if err := s.admit(ctx, tx, course, ""); err != nil {
			return err
		}
		if err := s.enrollments.Insert(ctx, tx, student.ID, course.ID); err != nil {
			return err
		}
		changed = true
		detail = newStudentDetail(student, append(ids, course.ID))
		return nil
	})
	return detail, s.finish(ctx, span, "enroll", changed, err)
}

// ReplaceEnrollment makes courseID the student's only course, or clears the
// set when courseID is empty. Capacity is checked before anything is written.
func (s *EnrollmentService) ReplaceEnrollment(ctx context.Context, studentID, courseID string) (*models.StudentDetail, error) {
	studentID = strings.TrimSpace(studentID)
	courseID = strings.TrimSpace(courseID)
	ctx, span := s.startSpan(ctx, "enrollment.replace", studentID, courseID)
	defer span.End()
	if err := unknownIDs(studentID, courseID); err != nil {
		return nil, s.finish(ctx, span, "replace", false, err)
	}

	var detail *models.StudentDetail
	changed := false
	err := runInTx(ctx, s.tx, s.metrics, "enrollment.replace", func(ctx context.Context, tx *sqlx.Tx) error {
		student, err := s.lockStudent(ctx, tx, studentID)
		if err != nil {
			return err
		}
		ids, didChange, err := s.replaceLocked(ctx, tx, student.ID, courseID)
		if err != nil {
			return err
		}
		changed = didChange
		detail = newStudentDetail(student, ids)
		return nil
	})
	return detail, s.finish(ctx, span, "replace", changed, err)
}

// Unenroll removes courseID from the student's set. Unknown IDs and absent
// pairs are accepted silently.
func (s *EnrollmentService) Unenroll(ctx context.Context, studentID, courseID string) error {
	studentID = strings.TrimSpace(studentID)
	courseID = strings.TrimSpace(courseID)
	ctx, span := s.startSpan(ctx, "enrollment.unenroll", studentID, courseID)
	defer span.End()
	if !knownID(studentID) || !knownID(courseID) {
		return s.finish(ctx, span, "unenroll", false, nil)
	}

	changed := false
	err := runInTx(ctx, s.tx, s.metrics, "enrollment.unenroll", func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := s.students.LockByID(ctx, tx, studentID); err != nil {
			if isNoRows(err) {
				return nil
			}
			return err
		}
		n, err := s.enrollments.Delete(ctx, tx, studentID, courseID)
		if err != nil {
			return err
		}
		changed = n > 0
		return nil
	})
	return s.finish(ctx, span, "unenroll", changed, err)
}

// Register creates a student and, when CourseID is set, enrolls it. Either
// both happen or neither does.
func (s *EnrollmentService) Register(ctx context.Context, req RegisterStudentRequest) (*models.StudentDetail, error) {
	req.normalize()
	req.CourseID = strings.TrimSpace(req.CourseID)
	ctx, span := s.startSpan(ctx, "enrollment.register", "", req.CourseID)
	defer span.End()
	if err := s.validator.Struct(req); err != nil {
		return nil, s.finish(ctx, span, "register", false, validationError(err, "invalid student payload"))
	}
	if req.CourseID != "" && !knownID(req.CourseID) {
		return nil, s.finish(ctx, span, "register", false, appErrors.NotFound("course", req.CourseID))
	}

	student := &models.Student{Matricola: req.Matricola, FullName: req.FullName, Email: req.Email}
	var detail *models.StudentDetail
	err := runInTx(ctx, s.tx, s.metrics, "enrollment.register", func(ctx context.Context, tx *sqlx.Tx) error {
		if err := insertStudent(ctx, tx, s.students, student); err != nil {
			return err
		}
		if req.CourseID == "" {
			detail = newStudentDetail(student, nil)
			return nil
		}
		course, err := s.lockCourse(ctx, tx, req.CourseID)
		if err != nil {
			return err
		}
		if err := s.admit(ctx, tx, course, ""); err != nil {
			return err
		}
		if err := s.enrollments.Insert(ctx, tx, student.ID, course.ID); err != nil {
			return err
		}
		detail = newStudentDetail(student, []string{course.ID})
		return nil
	})
	if dup := duplicateFromStore(err, "", student.Matricola); dup != nil {
		err = dup
	}
	if err == nil {
		span.SetAttributes(attribute.String("student.id", student.ID))
	}
	return detail, s.finish(ctx, span, "register", err == nil && req.CourseID != "", err)
}

// UpdateProfile changes the student's fields and replaces its enrollment in
// one transaction.
func (s *EnrollmentService) UpdateProfile(ctx context.Context, id string, req UpdateProfileRequest) (*models.StudentDetail, error) {
	id = strings.TrimSpace(id)
	req.normalize()
	req.CourseID = strings.TrimSpace(req.CourseID)
	ctx, span := s.startSpan(ctx, "enrollment.update_profile", id, req.CourseID)
	defer span.End()
	if err := s.validator.Struct(req); err != nil {
		return nil, s.finish(ctx, span, "update_profile", false, validationError(err, "invalid student payload"))
	}
	if err := unknownIDs(id, req.CourseID); err != nil {
		return nil, s.finish(ctx, span, "update_profile", false, err)
	}

	var detail *models.StudentDetail
	changed := false
	err := runInTx(ctx, s.tx, s.metrics, "enrollment.update_profile", func(ctx context.Context, tx *sqlx.Tx) error {
		student, err := updateStudent(ctx, tx, s.students, id, req.UpdateStudentRequest)
		if err != nil {
			return err
		}
		ids, didChange, err := s.replaceLocked(ctx, tx, student.ID, req.CourseID)
		if err != nil {
			return err
		}
		changed = didChange
		detail = newStudentDetail(student, ids)
		return nil
	})
	if dup := duplicateFromStore(err, "", req.Matricola); dup != nil {
		err = dup
	}
	return detail, s.finish(ctx, span, "update_profile", changed, err)
}

// replaceLocked swaps the enrollment set of an already locked student for
// {courseID}. All checks run before the first write.
func (s *EnrollmentService) replaceLocked(ctx context.Context, tx *sqlx.Tx, studentID, courseID string) ([]string, bool, error) {
	target := []string{}
	if courseID != "" {
		course, err := s.lockCourse(ctx, tx, courseID)
		if err != nil {
			return nil, false, err
		}
		if err := s.admit(ctx, tx, course, studentID); err != nil {
			return nil, false, err
		}
		target = []string{course.ID}
	}

	current, err := s.enrollments.CourseIDs(ctx, tx, studentID)
	if err != nil {
		return nil, false, err
	}
	if sameSet(current, target) {
		return current, false, nil
	}
	if len(current) > 0 {
		if _, err := s.enrollments.DeleteByStudent(ctx, tx, studentID); err != nil {
			return nil, false, err
		}
	}
	if courseID != "" {
		if err := s.enrollments.Insert(ctx, tx, studentID, target[0]); err != nil {
			return nil, false, err
		}
	}
	return target, true, nil
}

// admit fails with CAPACITY_EXCEEDED unless the locked course has a free seat.
// excludeStudentID is left out of the count, for a student about to give up
// its current seat.
func (s *EnrollmentService) admit(ctx context.Context, tx *sqlx.Tx, course *models.Course, excludeStudentID string) error {
	count, err := s.enrollments.CountByCourse(ctx, tx, course.ID, excludeStudentID)
	if err != nil {
		return err
	}
	if count >= course.Capacity {
		return appErrors.CapacityExceeded(course.ID, count, course.Capacity)
	}
	return nil
}

func (s *EnrollmentService) lockStudent(ctx context.Context, tx *sqlx.Tx, id string) (*models.Student, error) {
	if !knownID(id) {
		return nil, appErrors.NotFound("student", id)
	}
	student, err := s.students.LockByID(ctx, tx, id)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.NotFound("student", id)
		}
		return nil, err
	}
	return student, nil
}

func (s *EnrollmentService) lockCourse(ctx context.Context, tx *sqlx.Tx, id string) (*models.Course, error) {
	if !knownID(id) {
		return nil, appErrors.NotFound("course", id)
	}
	course, err := s.courses.LockByID(ctx, tx, id)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.NotFound("course", id)
		}
		return nil, err
	}
	return course, nil
}

// unknownIDs rejects a student ID or a non-empty course ID that cannot name a row.
func unknownIDs(studentID, courseID string) error {
	if !knownID(studentID) {
		return appErrors.NotFound("student", studentID)
	}
	if courseID != "" && !knownID(courseID) {
		return appErrors.NotFound("course", courseID)
	}
	return nil
}

func (s *EnrollmentService) startSpan(ctx context.Context, name, studentID, courseID string) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, 2)
	if studentID != "" {
		attrs = append(attrs, attribute.String("student.id", studentID))
	}
	if courseID != "" {
		attrs = append(attrs, attribute.String("course.id", courseID))
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// finish classifies err, records the outcome and invalidates cached
// listings after a committed change.
func (s *EnrollmentService) finish(ctx context.Context, span trace.Span, operation string, changed bool, err error) error {
	err = storeError(err, "failed to "+operation+" enrollment")
	outcome := enrollmentOutcome(err, changed)
	s.metrics.RecordEnrollment(operation, outcome)
	span.SetAttributes(attribute.String("enrollment.outcome", string(outcome)))

	if err != nil {
		if outcome == models.EnrollmentFailed {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		logFailure(ctx, s.logger, "enrollment."+operation, err)
		return err
	}
	if changed {
		_ = s.cache.Invalidate(ctx, courseCachePattern)
	}
	return nil
}

func enrollmentOutcome(err error, changed bool) models.EnrollmentOutcome {
	if err == nil {
		if changed {
			return models.EnrollmentCommitted
		}
		return models.EnrollmentNoop
	}
	switch appErrors.FromError(err).Code {
	case appErrors.ErrCapacityExceeded.Code:
		return models.EnrollmentRejectedCapacity
	case appErrors.ErrNotFound.Code:
		return models.EnrollmentRejectedNotFound
	case appErrors.ErrValidation.Code, appErrors.ErrDuplicate.Code:
		return models.EnrollmentRejectedInput
	}
	return models.EnrollmentFailed
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
