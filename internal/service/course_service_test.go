package service

import (
	"context"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/course-registration-api/internal/repository"
	"github.com/noah-isme/course-registration-api/pkg/config"
	"github.com/noah-isme/course-registration-api/pkg/database"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
	"github.com/noah-isme/course-registration-api/pkg/middleware/requestid"
)

func mustCreateCourse(t *testing.T, r *registry, code string, capacity int) string {
	t.Helper()
	course, err := r.courses.Create(context.Background(), CreateCourseRequest{Code: code, Title: "Course " + code, Credits: 6, Capacity: capacity})
	require.NoError(t, err)
	return course.ID
}

func TestCourseServiceCreateTrimsAndStores(t *testing.T) {
	r := newRegistry(config.DeletePolicyCascade)

	course, err := r.courses.Create(context.Background(), CreateCourseRequest{Code: "  CS101 ", Title: " Intro ", Credits: 6, Capacity: 1})
	require.NoError(t, err)
	assert.Equal(t, "CS101", course.Code)
	assert.Equal(t, "Intro", course.Title)
	assert.NotEmpty(t, course.ID)
	assert.Equal(t, 1, r.cacheRepo.invalidations())
}

func TestCourseServiceCreateValidation(t *testing.T) {
	r := newRegistry(config.DeletePolicyCascade)

	cases := []struct {
		name  string
		req   CreateCourseRequest
		field string
	}{
		{"blank code", CreateCourseRequest{Code: "   ", Title: "Intro", Credits: 6, Capacity: 1}, "code"},
		{"blank title", CreateCourseRequest{Code: "CS101", Title: "", Credits: 6, Capacity: 1}, "title"},
		{"zero credits", CreateCourseRequest{Code: "CS101", Title: "Intro", Credits: 0, Capacity: 1}, "credits"},
		{"negative capacity", CreateCourseRequest{Code: "CS101", Title: "Intro", Credits: 6, Capacity: -3}, "capacity"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.courses.Create(context.Background(), tc.req)
			require.Error(t, err)
			appErr := appErrors.FromError(err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
			assert.Equal(t, tc.field, appErr.Details["field"])
		})
	}
	assert.Zero(t, r.db.writeCount())
}

func TestCourseServiceCreateDuplicateLeavesStoreUnchanged(t *testing.T) {
	r := newRegistry(config.DeletePolicyCascade)
	mustCreateCourse(t, r, "CS101", 10)
	writes := r.db.writeCount()

	_, err := r.courses.Create(context.Background(), CreateCourseRequest{Code: "CS101", Title: "Other", Credits: 3, Capacity: 5})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrDuplicate.Code, appErr.Code)
	assert.Equal(t, "code", appErr.Details["field"])
	assert.Equal(t, "CS101", appErr.Details["value"])
	assert.Equal(t, writes, r.db.writeCount())
}

func TestCourseServiceCreateMapsStoreUniqueViolation(t *testing.T) {
	r := newRegistry(config.DeletePolicyCascade)
	r.db.setFailure("courses.Create", &pq.Error{Code: database.CodeUniqueViolation, Constraint: repository.ConstraintCourseCode})

	_, err := r.courses.Create(context.Background(), CreateCourseRequest{Code: "CS101", Title: "Intro", Credits: 6, Capacity: 1})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicate.Code))
	assert.Equal(t, 1, r.runner.rollbacks)
}

func TestCourseServiceCreateMapsRetryableFailure(t *testing.T) {
	r := newRegistry(config.DeletePolicyCascade)
	r.db.setFailure("courses.Create", &pq.Error{Code: database.CodeDeadlockDetected})

	_, err := r.courses.Create(context.Background(), CreateCourseRequest{Code: "CS101", Title: "Intro", Credits: 6, Capacity: 1})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrTransient.Code, appErr.Code)
	assert.True(t, appErr.Retryable)
}

func TestCourseServiceUpdate(t *testing.T) {
	r := newRegistry(config.DeletePolicyCascade)
	ctx := context.Background()
	first := mustCreateCourse(t, r, "CS101", 10)
	mustCreateCourse(t, r, "CS102", 10)

	updated, err := r.courses.Update(ctx, first, UpdateCourseRequest{Code: "CS101", Title: "Intro v2", Credits: 9, Capacity: 12})
	require.NoError(t, err)
	assert.Equal(t, "Intro v2", updated.Title)
	assert.Equal(t, 12, updated.Capacity)

	_, err = r.courses.Update(ctx, first, UpdateCourseRequest{Code: "CS102", Title: "Clash", Credits: 9, Capacity: 12})
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicate.Code))

	_, err = r.courses.Update(ctx, "missing", UpdateCourseRequest{Code: "CS900", Title: "Ghost", Credits: 1, Capacity: 1})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound.Code))

	stored, err := r.courses.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "CS101", stored.Code)
}

func TestCourseServiceUpdateRejectsCapacityBelowEnrolled(t *testing.T) {
	r := newRegistry(config.DeletePolicyCascade)
	ctx := context.Background()
	courseID := mustCreateCourse(t, r, "CS101", 3)
	for _, m := range []string{"111", "222"} {
		st := mustCreateStudent(t, r, m)
		_, err := r.enrollments.Enroll(ctx, st, courseID)
		require.NoError(t, err)
	}

	_, err := r.courses.Update(ctx, courseID, UpdateCourseRequest{Code: "CS101", Title: "Intro", Credits: 6, Capacity: 1})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrCapacityExceeded.Code, appErr.Code)
	assert.Equal(t, 2, appErr.Details["enrolled"])

	stored, err := r.courses.Get(ctx, courseID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Capacity)

	_, err = r.courses.Update(ctx, courseID, UpdateCourseRequest{Code: "CS101", Title: "Intro", Credits: 6, Capacity: 2})
	assert.NoError(t, err)
}

func TestCourseServiceDeleteCascades(t *testing.T) {
	r := newRegistry(config.DeletePolicyCascade)
	ctx := context.Background()
	courseID := mustCreateCourse(t, r, "CS101", 3)
	other := mustCreateCourse(t, r, "CS102", 3)
	st := mustCreateStudent(t, r, "111")
	_, err := r.enrollments.Enroll(ctx, st, courseID)
	require.NoError(t, err)
	_, err = r.enrollments.Enroll(ctx, st, other)
	require.NoError(t, err)

	require.NoError(t, r.courses.Delete(ctx, courseID))

	_, err = r.courses.Get(ctx, courseID)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound.Code))
	assert.Equal(t, []string{other}, r.db.courseIDs(st))
}

func TestCourseServiceDeleteRestrict(t *testing.T) {
	r := newRegistry(config.DeletePolicyRestrict)
	ctx := context.Background()
	courseID := mustCreateCourse(t, r, "CS101", 3)
	st := mustCreateStudent(t, r, "111")
	_, err := r.enrollments.Enroll(ctx, st, courseID)
	require.NoError(t, err)

	err = r.courses.Delete(ctx, courseID)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Equal(t, 1, appErr.Details["enrolled"])

	require.NoError(t, r.enrollments.Unenroll(ctx, st, courseID))
	assert.NoError(t, r.courses.Delete(ctx, courseID))
}

func TestCourseServiceDeleteUnknownIsNoop(t *testing.T) {
	r := newRegistry(config.DeletePolicyRestrict)
	mustCreateCourse(t, r, "CS101", 3)
	writes := r.db.writeCount()
	invalidations := r.cacheRepo.invalidations()

	assert.NoError(t, r.courses.Delete(context.Background(), "missing"))
	assert.NoError(t, r.courses.Delete(context.Background(), ""))
	assert.Equal(t, writes, r.db.writeCount())
	assert.Equal(t, invalidations, r.cacheRepo.invalidations())
}

func TestCourseServiceEnrolledCountUnknownIsZero(t *testing.T) {
	r := newRegistry(config.DeletePolicyCascade)

	count, err := r.courses.EnrolledCount(context.Background(), "missing")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCourseServiceFailureLogCarriesRequestID(t *testing.T) {
	r := newRegistry(config.DeletePolicyCascade)
	core, logs := observer.New(zap.InfoLevel)
	svc := NewCourseService(r.runner, &fakeCourseStore{db: r.db}, &fakeEnrollmentStore{db: r.db}, nil, r.metrics, "", nil, zap.New(core))
	mustCreateCourse(t, r, "CS101", 1)

	ctx := requestid.WithValue(context.Background(), "req-42")
	_, err := svc.Create(ctx, CreateCourseRequest{Code: "CS101", Title: "Again", Credits: 6, Capacity: 1})
	require.Error(t, err)

	entries := logs.FilterMessage("registration operation rejected").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, "course.create", fields["operation"])
	assert.Equal(t, appErrors.ErrDuplicate.Code, fields["code"])
}
