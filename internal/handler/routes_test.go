package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/internal/service"
)

func TestRoutesRequireTokensWhenAuthEnabled(t *testing.T) {
	auth := service.NewAuthService(nil, service.AuthConfig{Secret: "s3cret"})
	api := newTestAPI(RouteOptions{Auth: auth, AuthEnabled: true})
	viewer, _, err := auth.IssueToken("u1", models.RoleViewer, "")
	require.NoError(t, err)
	registrar, _, err := auth.IssueToken("u2", models.RoleRegistrar, "")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/v1/courses", nil, "").Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/courses", nil, viewer).Code)

	body := EnrollmentRequest{CourseID: "c1"}
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodPost, "/api/v1/students/s1/enrollments", body, viewer).Code)
	assert.Empty(t, api.enrollments.lastCall)
	assert.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/v1/students/s1/enrollments", body, registrar).Code)
}

func TestRoutesOpenWhenAuthDisabled(t *testing.T) {
	api := newTestAPI(RouteOptions{AuthEnabled: false})

	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/api/v1/courses/c1", nil, "").Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/metrics/summary", nil, "").Code)
}
