package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/middleware"
	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/internal/service"
)

// Handlers groups the API handlers mounted under the API prefix.
type Handlers struct {
	Courses     *CourseHandler
	Students    *StudentHandler
	Enrollments *EnrollmentHandler
	Metrics     *MetricsHandler
}

// RouteOptions configures access control for the API group.
type RouteOptions struct {
	Auth        *service.AuthService
	AuthEnabled bool
	Logger      *zap.Logger
}

// RegisterRoutes mounts the registry API on api. Reads need any valid token,
// writes need an ADMIN or REGISTRAR token; both are open with auth disabled.
func RegisterRoutes(api *gin.RouterGroup, h Handlers, opts RouteOptions) {
	write := []gin.HandlerFunc{}
	if opts.AuthEnabled {
		api.Use(middleware.JWT(opts.Auth))
		write = append(write, middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar))
	}
	audited := func(action string, fn gin.HandlerFunc) []gin.HandlerFunc {
		chain := append([]gin.HandlerFunc{}, write...)
		return append(chain, middleware.Audit(opts.Logger, action), fn)
	}

	courses := api.Group("/courses")
	courses.GET("", h.Courses.List)
	courses.GET("/by-code/:code", h.Courses.GetByCode)
	courses.GET("/:id", h.Courses.Get)
	courses.GET("/:id/enrolled-count", h.Courses.EnrolledCount)
	courses.GET("/:id/roster", h.Courses.Roster)
	courses.POST("", audited("course.create", h.Courses.Create)...)
	courses.PUT("/:id", audited("course.update", h.Courses.Update)...)
	courses.DELETE("/:id", audited("course.delete", h.Courses.Delete)...)

	students := api.Group("/students")
	students.GET("", h.Students.List)
	students.GET("/by-matricola/:matricola", h.Students.GetByMatricola)
	students.GET("/:id", h.Students.Get)
	students.POST("", audited("student.register", h.Students.Create)...)
	students.PUT("/:id", audited("student.update", h.Students.Update)...)
	students.DELETE("/:id", audited("student.delete", h.Students.Delete)...)

	students.POST("/:id/enrollments", audited("enrollment.enroll", h.Enrollments.Enroll)...)
	students.PUT("/:id/enrollment", audited("enrollment.replace", h.Enrollments.Replace)...)
	students.GET("/:id/enrollments/:courseId", h.Enrollments.Status)
	students.DELETE("/:id/enrollments/:courseId", audited("enrollment.unenroll", h.Enrollments.Unenroll)...)

	if h.Metrics != nil {
		api.GET("/metrics/summary", h.Metrics.Summary)
	}
}
