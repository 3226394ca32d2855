package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/internal/service"
	"github.com/noah-isme/course-registration-api/pkg/response"
)

type studentDirectory interface {
	Get(ctx context.Context, id string) (*models.StudentDetail, error)
	UpdateFields(ctx context.Context, id string, req service.UpdateStudentRequest) (*models.Student, error)
	Delete(ctx context.Context, id string) error
}

type studentRegistrar interface {
	Register(ctx context.Context, req service.RegisterStudentRequest) (*models.StudentDetail, error)
	UpdateProfile(ctx context.Context, id string, req service.UpdateProfileRequest) (*models.StudentDetail, error)
}

type studentQueries interface {
	ListStudents(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error)
	FindStudentByMatricola(ctx context.Context, matricola string) (*models.StudentDetail, error)
}

// updateStudentPayload tells a plain field update apart from one that also
// replaces the enrollment: course_id present, even empty, means replace.
type updateStudentPayload struct {
	service.UpdateStudentRequest
	CourseID *string `json:"course_id"`
}

// StudentHandler exposes student endpoints.
type StudentHandler struct {
	students  studentDirectory
	registrar studentRegistrar
	queries   studentQueries
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students studentDirectory, registrar studentRegistrar, queries studentQueries) *StudentHandler {
	return &StudentHandler{students: students, registrar: registrar, queries: queries}
}

// List godoc
// @Summary List students with their courses
// @Tags Students
// @Produce json
// @Param search query string false "Search by matricola, name or email"
// @Param courseId query string false "Only students enrolled in this course"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param sort query string false "matricola, full_name, email, created_at"
// @Param order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	filter := models.StudentFilter{
		Search:    strings.TrimSpace(c.Query("search")),
		CourseID:  c.Query("courseId"),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	filter.Page, filter.PageSize = pageParams(c)

	students, pagination, err := h.queries.ListStudents(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get student with enrolled courses
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// GetByMatricola godoc
// @Summary Find student by matricola
// @Tags Students
// @Produce json
// @Param matricola path string true "Matricola"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/by-matricola/{matricola} [get]
func (h *StudentHandler) GetByMatricola(c *gin.Context) {
	student, err := h.queries.FindStudentByMatricola(c.Request.Context(), c.Param("matricola"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Create godoc
// @Summary Register student
// @Description Creates the student and, when course_id is given, enrolls it in the same transaction.
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body service.RegisterStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	var req service.RegisterStudentRequest
	if !bindJSON(c, &req) {
		return
	}
	student, err := h.registrar.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Update godoc
// @Summary Update student
// @Description Without course_id only the student fields change. With course_id the enrollment is replaced as well; an empty value clears it.
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.UpdateProfileRequest true "Student payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/{id} [put]
func (h *StudentHandler) Update(c *gin.Context) {
	var payload updateStudentPayload
	if !bindJSON(c, &payload) {
		return
	}
	id := c.Param("id")
	if payload.CourseID == nil {
		student, err := h.students.UpdateFields(c.Request.Context(), id, payload.UpdateStudentRequest)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, student, nil)
		return
	}

	student, err := h.registrar.UpdateProfile(c.Request.Context(), id, service.UpdateProfileRequest{
		UpdateStudentRequest: payload.UpdateStudentRequest,
		CourseID:             *payload.CourseID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Delete godoc
// @Summary Delete student
// @Description Unknown IDs succeed. Seats held by the student are released.
// @Tags Students
// @Param id path string true "Student ID"
// @Success 204
// @Router /students/{id} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	if err := h.students.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
