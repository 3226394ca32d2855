package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-registration-api/internal/models"
)

// EnrollmentRepository handles persistence of the student/course membership relation.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// CourseIDs returns the enrollment set of a student, read inside tx.
func (r *EnrollmentRepository) CourseIDs(ctx context.Context, tx *sqlx.Tx, studentID string) ([]string, error) {
	const query = `SELECT course_id FROM enrollments WHERE student_id = $1 ORDER BY enrolled_at, course_id`
	ids := []string{}
	if err := tx.SelectContext(ctx, &ids, query, studentID); err != nil {
		return nil, fmt.Errorf("list student courses: %w", err)
	}
	return ids, nil
}

// CountByCourse counts the students holding courseID, optionally ignoring one student.
// Callers must hold the course row lock for the count to stay valid until commit.
func (r *EnrollmentRepository) CountByCourse(ctx context.Context, tx *sqlx.Tx, courseID, excludeStudentID string) (int, error) {
	query := "SELECT COUNT(*) FROM enrollments WHERE course_id = $1"
	args := []interface{}{courseID}
	if excludeStudentID != "" {
		query += " AND student_id <> $2"
		args = append(args, excludeStudentID)
	}
	var count int
	if err := tx.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count course enrollments: %w", err)
	}
	return count, nil
}

// Insert adds courseID to the student's set. Inserting an existing pair is a no-op.
func (r *EnrollmentRepository) Insert(ctx context.Context, tx *sqlx.Tx, studentID, courseID string) error {
	const query = `INSERT INTO enrollments (student_id, course_id, enrolled_at) VALUES ($1, $2, $3)
        ON CONFLICT (student_id, course_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, query, studentID, courseID, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

// Delete removes one membership pair and reports how many rows were removed.
func (r *EnrollmentRepository) Delete(ctx context.Context, tx *sqlx.Tx, studentID, courseID string) (int64, error) {
	return execCount(ctx, tx, "delete enrollment", `DELETE FROM enrollments WHERE student_id = $1 AND course_id = $2`, studentID, courseID)
}

// DeleteByStudent clears the whole enrollment set of a student.
func (r *EnrollmentRepository) DeleteByStudent(ctx context.Context, tx *sqlx.Tx, studentID string) (int64, error) {
	return execCount(ctx, tx, "clear student enrollments", `DELETE FROM enrollments WHERE student_id = $1`, studentID)
}

// DeleteByCourse removes every membership of a course.
func (r *EnrollmentRepository) DeleteByCourse(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error) {
	return execCount(ctx, tx, "clear course enrollments", `DELETE FROM enrollments WHERE course_id = $1`, courseID)
}

// CountForCourse reads the enrolled count outside of any transaction.
func (r *EnrollmentRepository) CountForCourse(ctx context.Context, courseID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM enrollments WHERE course_id = $1`, courseID); err != nil {
		return 0, fmt.Errorf("count course enrollments: %w", err)
	}
	return count, nil
}

// IsEnrolled reports whether the student currently holds the course.
func (r *EnrollmentRepository) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	var exists int
	err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 LIMIT 1`, studentID, courseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return true, nil
}

// ListByStudents returns the enrollment sets of the given students keyed by student ID.
func (r *EnrollmentRepository) ListByStudents(ctx context.Context, studentIDs []string) (map[string][]string, error) {
	result := make(map[string][]string, len(studentIDs))
	if len(studentIDs) == 0 {
		return result, nil
	}
	const chunkSize = 100
	for start := 0; start < len(studentIDs); start += chunkSize {
		end := start + chunkSize
		if end > len(studentIDs) {
			end = len(studentIDs)
		}
		chunk := studentIDs[start:end]
		placeholders := make([]string, len(chunk))
		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = id
		}
		query := fmt.Sprintf("SELECT student_id, course_id, enrolled_at FROM enrollments WHERE student_id IN (%s) ORDER BY enrolled_at, course_id", strings.Join(placeholders, ","))
		var rows []models.Enrollment
		if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
			return nil, fmt.Errorf("list enrollments by students: %w", err)
		}
		for _, row := range rows {
			result[row.StudentID] = append(result[row.StudentID], row.CourseID)
		}
	}
	return result, nil
}

func execCount(ctx context.Context, tx *sqlx.Tx, op, query string, args ...interface{}) (int64, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows: %w", op, err)
	}
	return n, nil
}
