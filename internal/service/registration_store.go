package service

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/internal/repository"
	"github.com/noah-isme/course-registration-api/pkg/database"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
	"github.com/noah-isme/course-registration-api/pkg/middleware/requestid"
)

// txRunner executes fn inside a single store transaction.
type txRunner interface {
	InTx(ctx context.Context, fn database.TxFunc) error
}

type courseStore interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Course, error)
	ExistsByCode(ctx context.Context, tx *sqlx.Tx, code, excludeID string) (bool, error)
	Create(ctx context.Context, tx *sqlx.Tx, course *models.Course) error
	Update(ctx context.Context, tx *sqlx.Tx, course *models.Course) error
	Delete(ctx context.Context, tx *sqlx.Tx, id string) (int64, error)
}

type studentStore interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Student, error)
	ExistsByMatricola(ctx context.Context, tx *sqlx.Tx, matricola, excludeID string) (bool, error)
	Create(ctx context.Context, tx *sqlx.Tx, student *models.Student) error
	Update(ctx context.Context, tx *sqlx.Tx, student *models.Student) error
	Delete(ctx context.Context, tx *sqlx.Tx, id string) (int64, error)
}

type enrollmentStore interface {
	CourseIDs(ctx context.Context, tx *sqlx.Tx, studentID string) ([]string, error)
	CountByCourse(ctx context.Context, tx *sqlx.Tx, courseID, excludeStudentID string) (int, error)
	Insert(ctx context.Context, tx *sqlx.Tx, studentID, courseID string) error
	Delete(ctx context.Context, tx *sqlx.Tx, studentID, courseID string) (int64, error)
	DeleteByStudent(ctx context.Context, tx *sqlx.Tx, studentID string) (int64, error)
	DeleteByCourse(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error)
	CountForCourse(ctx context.Context, courseID string) (int, error)
	ListByStudents(ctx context.Context, studentIDs []string) (map[string][]string, error)
}

// courseCachePattern matches every cached course listing.
const courseCachePattern = "courses:*"

// NewValidator returns a validator that reports JSON field names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validationError converts validator output into a VALIDATION_ERROR naming the first bad field.
func validationError(err error, message string) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return appErrors.Validation(fe.Field(), message+": "+fe.Field()+" fails "+fe.Tag())
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

// storeError classifies a failure coming out of a transaction. Typed errors pass through.
func storeError(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if database.IsRetryable(err) {
		return appErrors.Transient(err)
	}
	if database.IsForeignKeyViolation(err) {
		notFound := appErrors.NotFound("reference", "")
		notFound.Err = err
		return notFound
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

// duplicateFromStore maps a unique violation raised by the store to DUPLICATE.
// It returns nil for any other error.
func duplicateFromStore(err error, code, matricola string) error {
	constraint, ok := database.UniqueViolation(err)
	if !ok {
		return nil
	}
	switch constraint {
	case repository.ConstraintCourseCode:
		return appErrors.Duplicate("code", code)
	case repository.ConstraintStudentMatricola:
		return appErrors.Duplicate("matricola", matricola)
	}
	return nil
}

// runInTx executes fn in one transaction and records its duration under operation.
func runInTx(ctx context.Context, runner txRunner, metrics *MetricsService, operation string, fn database.TxFunc) error {
	start := time.Now()
	err := runner.InTx(ctx, fn)
	metrics.ObserveTx(operation, time.Since(start))
	return err
}

// logFailure logs rejections at info level and store failures at warn or error.
func logFailure(ctx context.Context, logger *zap.Logger, operation string, err error, fields ...zap.Field) {
	appErr := appErrors.FromError(err)
	fields = append(fields, zap.String("operation", operation), zap.String("code", appErr.Code))
	if reqID := requestid.FromContext(ctx); reqID != "" {
		fields = append(fields, zap.String("request_id", reqID))
	}
	switch appErr.Code {
	case appErrors.ErrInternal.Code:
		logger.Error("registration operation failed", append(fields, zap.Error(err))...)
	case appErrors.ErrTransient.Code:
		logger.Warn("registration store unavailable", append(fields, zap.Error(err))...)
	default:
		logger.Info("registration operation rejected", append(fields, zap.String("reason", appErr.Message))...)
	}
}

// knownID reports whether id can name a stored row. Rows are keyed by
// canonical UUIDs, so anything else is an unknown ID and must not reach the store.
func knownID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
