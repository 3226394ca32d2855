package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/pkg/response"
)

type enrollmentManager interface {
	Enroll(ctx context.Context, studentID, courseID string) (*models.StudentDetail, error)
	ReplaceEnrollment(ctx context.Context, studentID, courseID string) (*models.StudentDetail, error)
	Unenroll(ctx context.Context, studentID, courseID string) error
}

type enrollmentQueries interface {
	IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
}

// EnrollmentRequest names the course to enroll in or switch to.
type EnrollmentRequest struct {
	CourseID string `json:"course_id"`
}

// EnrollmentHandler exposes the enrollment endpoints of a student.
type EnrollmentHandler struct {
	enrollments enrollmentManager
	queries     enrollmentQueries
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentManager, queries enrollmentQueries) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, queries: queries}
}

// Enroll godoc
// @Summary Enroll student in a course
// @Description Enrolling in a course already held is a no-op.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body EnrollmentRequest true "Course to enroll in"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /students/{id}/enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	var req EnrollmentRequest
	if !bindJSON(c, &req) {
		return
	}
	student, err := h.enrollments.Enroll(c.Request.Context(), c.Param("id"), req.CourseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Replace godoc
// @Summary Replace the student's enrollment
// @Description The course becomes the only one held; an empty course_id clears the set. Nothing changes on failure.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body EnrollmentRequest true "Course to switch to"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/{id}/enrollment [put]
func (h *EnrollmentHandler) Replace(c *gin.Context) {
	var req EnrollmentRequest
	if !bindJSON(c, &req) {
		return
	}
	student, err := h.enrollments.ReplaceEnrollment(c.Request.Context(), c.Param("id"), req.CourseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Status godoc
// @Summary Check enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Student ID"
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/enrollments/{courseId} [get]
func (h *EnrollmentHandler) Status(c *gin.Context) {
	studentID, courseID := c.Param("id"), c.Param("courseId")
	enrolled, err := h.queries.IsEnrolled(c.Request.Context(), studentID, courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"student_id": studentID, "course_id": courseID, "enrolled": enrolled}, nil)
}

// Unenroll godoc
// @Summary Drop a course
// @Description Unknown IDs and absent enrollments succeed.
// @Tags Enrollments
// @Param id path string true "Student ID"
// @Param courseId path string true "Course ID"
// @Success 204
// @Router /students/{id}/enrollments/{courseId} [delete]
func (h *EnrollmentHandler) Unenroll(c *gin.Context) {
	if err := h.enrollments.Unenroll(c.Request.Context(), c.Param("id"), c.Param("courseId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
