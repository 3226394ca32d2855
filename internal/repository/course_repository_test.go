package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-registration-api/internal/models"
)

func newCourseRepoMock(t *testing.T) (*CourseRepository, *sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewCourseRepository(sqlxDB), sqlxDB, mock
}

func beginMockTx(t *testing.T, db *sqlx.DB, mock sqlmock.Sqlmock) *sqlx.Tx {
	mock.ExpectBegin()
	tx, err := db.Beginx()
	require.NoError(t, err)
	return tx
}

func TestCourseRepositoryListWithCounts(t *testing.T) {
	repo, _, mock := newCourseRepoMock(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "code", "title", "credits", "capacity", "created_at", "updated_at", "enrolled_count"}).
		AddRow("c1", "ALG1", "Algebra", 6, 30, now, now, 12)
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(e.student_id) AS enrolled_count")).
		WithArgs("%alg%").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM (SELECT c.id FROM courses c LEFT JOIN enrollments e ON e.course_id = c.id WHERE (LOWER(c.code) LIKE $1 OR LOWER(c.title) LIKE $1) GROUP BY c.id HAVING COUNT(e.student_id) < c.capacity) t")).
		WithArgs("%alg%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	courses, total, err := repo.List(context.Background(), models.CourseFilter{Search: "ALG", OnlyOpen: true})
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, 12, courses[0].EnrolledCount)
	assert.Equal(t, 18, courses[0].SeatsLeft())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryListRejectsUnknownSort(t *testing.T) {
	repo, _, mock := newCourseRepoMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY c.code ASC LIMIT 20 OFFSET 0")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, _, err := repo.List(context.Background(), models.CourseFilter{SortBy: "capacity; DROP TABLE", SortOrder: "sideways"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryLockByID(t *testing.T) {
	repo, db, mock := newCourseRepoMock(t)
	tx := beginMockTx(t, db, mock)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, code, title, credits, capacity, created_at, updated_at FROM courses WHERE id = $1 FOR UPDATE")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "title", "credits", "capacity", "created_at", "updated_at"}).
			AddRow("c1", "ALG1", "Algebra", 6, 2, now, now))

	course, err := repo.LockByID(context.Background(), tx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, course.Capacity)

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WithArgs("missing").WillReturnError(sql.ErrNoRows)
	_, err = repo.LockByID(context.Background(), tx, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryExistsByCode(t *testing.T) {
	repo, db, mock := newCourseRepoMock(t)
	tx := beginMockTx(t, db, mock)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM courses WHERE code = $1 AND id <> $2 LIMIT 1")).
		WithArgs("ALG1", "c1").
		WillReturnError(sql.ErrNoRows)
	exists, err := repo.ExistsByCode(context.Background(), tx, "ALG1", "c1")
	require.NoError(t, err)
	assert.False(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM courses WHERE code = $1 LIMIT 1")).
		WithArgs("ALG1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	exists, err = repo.ExistsByCode(context.Background(), tx, "ALG1", "")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryCreateAssignsID(t *testing.T) {
	repo, db, mock := newCourseRepoMock(t)
	tx := beginMockTx(t, db, mock)

	mock.ExpectExec("INSERT INTO courses").
		WithArgs(sqlmock.AnyArg(), "ALG1", "Algebra", 6, 30, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	course := &models.Course{Code: "ALG1", Title: "Algebra", Credits: 6, Capacity: 30}
	require.NoError(t, repo.Create(context.Background(), tx, course))
	assert.NotEmpty(t, course.ID)
	assert.False(t, course.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryUpdateAndDelete(t *testing.T) {
	repo, db, mock := newCourseRepoMock(t)
	tx := beginMockTx(t, db, mock)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET code = ?, title = ?, credits = ?, capacity = ?, updated_at = ? WHERE id = ?")).
		WithArgs("ALG2", "Algebra II", 6, 40, sqlmock.AnyArg(), "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(context.Background(), tx, &models.Course{ID: "c1", Code: "ALG2", Title: "Algebra II", Credits: 6, Capacity: 40}))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM courses WHERE id = $1")).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	n, err := repo.Delete(context.Background(), tx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
