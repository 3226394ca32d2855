package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-registration-api/internal/middleware"
	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/internal/service"
	"github.com/noah-isme/course-registration-api/pkg/export"
	"github.com/noah-isme/course-registration-api/pkg/response"
)

type courseDirectory interface {
	Get(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, req service.CreateCourseRequest) (*models.Course, error)
	Update(ctx context.Context, id string, req service.UpdateCourseRequest) (*models.Course, error)
	Delete(ctx context.Context, id string) error
	EnrolledCount(ctx context.Context, id string) (int, error)
}

type courseQueries interface {
	ListCourses(ctx context.Context, filter models.CourseFilter) ([]models.CourseSummary, *models.Pagination, error)
	FindCourseByCode(ctx context.Context, code string) (*models.Course, error)
	CourseRoster(ctx context.Context, courseID string) (*models.CourseRoster, error)
}

// CourseView is a catalogue entry with its live seat figures.
type CourseView struct {
	models.CourseSummary
	SeatsLeft int  `json:"seats_left"`
	Full      bool `json:"full"`
}

// CourseHandler exposes course endpoints.
type CourseHandler struct {
	courses  courseDirectory
	queries  courseQueries
	exporter *export.CSVExporter
}

// NewCourseHandler constructs CourseHandler.
func NewCourseHandler(courses courseDirectory, queries courseQueries) *CourseHandler {
	return &CourseHandler{courses: courses, queries: queries, exporter: export.NewCSVExporter()}
}

// List godoc
// @Summary List courses with enrolled counts
// @Tags Courses
// @Produce json
// @Param search query string false "Search by code or title"
// @Param open query bool false "Only courses with free seats"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param sort query string false "code, title, credits, capacity, enrolled, created_at"
// @Param order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	filter := models.CourseFilter{
		Search:    strings.TrimSpace(c.Query("search")),
		OnlyOpen:  queryBool(c, "open"),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	filter.Page, filter.PageSize = pageParams(c)

	courses, pagination, err := h.queries.ListCourses(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	views := make([]CourseView, 0, len(courses))
	for _, course := range courses {
		views = append(views, CourseView{CourseSummary: course, SeatsLeft: course.SeatsLeft(), Full: course.IsFull()})
	}
	response.JSON(c, http.StatusOK, views, pagination, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get course
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.courses.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// GetByCode godoc
// @Summary Find course by code
// @Tags Courses
// @Produce json
// @Param code path string true "Course code"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/by-code/{code} [get]
func (h *CourseHandler) GetByCode(c *gin.Context) {
	course, err := h.queries.FindCourseByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// EnrolledCount godoc
// @Summary Number of students enrolled in a course
// @Description Unknown course IDs report zero.
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/enrolled-count [get]
func (h *CourseHandler) EnrolledCount(c *gin.Context) {
	id := c.Param("id")
	count, err := h.courses.EnrolledCount(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"course_id": id, "enrolled": count}, nil)
}

// Roster godoc
// @Summary List the students enrolled in a course
// @Description format=csv downloads the roster as CSV.
// @Tags Courses
// @Produce json
// @Produce text/csv
// @Param id path string true "Course ID"
// @Param format query string false "json or csv"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id}/roster [get]
func (h *CourseHandler) Roster(c *gin.Context) {
	roster, err := h.queries.CourseRoster(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !strings.EqualFold(c.Query("format"), "csv") {
		response.JSON(c, http.StatusOK, roster, nil)
		return
	}

	table := export.Table{Headers: []string{"matricola", "full_name", "email"}}
	for _, st := range roster.Students {
		table.Rows = append(table.Rows, []string{st.Matricola, st.FullName, st.Email})
	}
	body, err := h.exporter.Render(table)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", strings.ToLower(roster.Course.Code)+"-roster.csv"))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", body)
}

// Create godoc
// @Summary Create course
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body service.CreateCourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	var req service.CreateCourseRequest
	if !bindJSON(c, &req) {
		return
	}
	course, err := h.courses.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// Update godoc
// @Summary Update course
// @Description Capacity cannot drop below the number of enrolled students.
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.UpdateCourseRequest true "Course payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id} [put]
func (h *CourseHandler) Update(c *gin.Context) {
	var req service.UpdateCourseRequest
	if !bindJSON(c, &req) {
		return
	}
	course, err := h.courses.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Delete godoc
// @Summary Delete course
// @Description Unknown IDs succeed. Enrollments are dropped or the delete is refused depending on the configured policy.
// @Tags Courses
// @Param id path string true "Course ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /courses/{id} [delete]
func (h *CourseHandler) Delete(c *gin.Context) {
	if err := h.courses.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
