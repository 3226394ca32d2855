package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/internal/service"
)

type courseServiceMock struct {
	course     *models.Course
	err        error
	count      int
	createReq  service.CreateCourseRequest
	deletedID  string
	listResp   []models.CourseSummary
	listFilter models.CourseFilter
	lookupCode string
	roster     *models.CourseRoster
}

func (m *courseServiceMock) Get(ctx context.Context, id string) (*models.Course, error) {
	return m.course, m.err
}

func (m *courseServiceMock) Create(ctx context.Context, req service.CreateCourseRequest) (*models.Course, error) {
	m.createReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &models.Course{ID: "c1", Code: req.Code, Title: req.Title, Credits: req.Credits, Capacity: req.Capacity}, nil
}

func (m *courseServiceMock) Update(ctx context.Context, id string, req service.UpdateCourseRequest) (*models.Course, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Course{ID: id, Code: req.Code, Title: req.Title, Credits: req.Credits, Capacity: req.Capacity}, nil
}

func (m *courseServiceMock) Delete(ctx context.Context, id string) error {
	m.deletedID = id
	return m.err
}

func (m *courseServiceMock) EnrolledCount(ctx context.Context, id string) (int, error) {
	return m.count, m.err
}

func (m *courseServiceMock) ListCourses(ctx context.Context, filter models.CourseFilter) ([]models.CourseSummary, *models.Pagination, error) {
	m.listFilter = filter
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.listResp, &models.Pagination{Page: 1, PageSize: 20, TotalCount: len(m.listResp)}, nil
}

func (m *courseServiceMock) FindCourseByCode(ctx context.Context, code string) (*models.Course, error) {
	m.lookupCode = code
	return m.course, m.err
}

func (m *courseServiceMock) CourseRoster(ctx context.Context, courseID string) (*models.CourseRoster, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.roster, nil
}

type studentServiceMock struct {
	err           error
	updatedFields *service.UpdateStudentRequest
	profile       *service.UpdateProfileRequest
	registered    *service.RegisterStudentRequest
	deletedID     string
}

func (m *studentServiceMock) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.StudentDetail{Student: models.Student{ID: id}, CourseIDs: []string{}}, nil
}

func (m *studentServiceMock) UpdateFields(ctx context.Context, id string, req service.UpdateStudentRequest) (*models.Student, error) {
	m.updatedFields = &req
	if m.err != nil {
		return nil, m.err
	}
	return &models.Student{ID: id, Matricola: req.Matricola, FullName: req.FullName, Email: req.Email}, nil
}

func (m *studentServiceMock) Delete(ctx context.Context, id string) error {
	m.deletedID = id
	return m.err
}

func (m *studentServiceMock) Register(ctx context.Context, req service.RegisterStudentRequest) (*models.StudentDetail, error) {
	m.registered = &req
	if m.err != nil {
		return nil, m.err
	}
	ids := []string{}
	if req.CourseID != "" {
		ids = append(ids, req.CourseID)
	}
	return &models.StudentDetail{Student: models.Student{ID: "s1", Matricola: req.Matricola}, CourseIDs: ids}, nil
}

func (m *studentServiceMock) UpdateProfile(ctx context.Context, id string, req service.UpdateProfileRequest) (*models.StudentDetail, error) {
	m.profile = &req
	if m.err != nil {
		return nil, m.err
	}
	return &models.StudentDetail{Student: models.Student{ID: id, Matricola: req.Matricola}, CourseIDs: []string{}}, nil
}

func (m *studentServiceMock) ListStudents(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	return []models.StudentDetail{}, &models.Pagination{Page: 1, PageSize: 20}, m.err
}

func (m *studentServiceMock) FindStudentByMatricola(ctx context.Context, matricola string) (*models.StudentDetail, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.StudentDetail{Student: models.Student{ID: "s1", Matricola: matricola}, CourseIDs: []string{}}, nil
}

type enrollmentServiceMock struct {
	err       error
	enrolled  bool
	lastCall  string
	studentID string
	courseID  string
}

func (m *enrollmentServiceMock) record(call, studentID, courseID string) {
	m.lastCall, m.studentID, m.courseID = call, studentID, courseID
}

func (m *enrollmentServiceMock) Enroll(ctx context.Context, studentID, courseID string) (*models.StudentDetail, error) {
	m.record("enroll", studentID, courseID)
	if m.err != nil {
		return nil, m.err
	}
	return &models.StudentDetail{Student: models.Student{ID: studentID}, CourseIDs: []string{courseID}}, nil
}

func (m *enrollmentServiceMock) ReplaceEnrollment(ctx context.Context, studentID, courseID string) (*models.StudentDetail, error) {
	m.record("replace", studentID, courseID)
	if m.err != nil {
		return nil, m.err
	}
	ids := []string{}
	if courseID != "" {
		ids = append(ids, courseID)
	}
	return &models.StudentDetail{Student: models.Student{ID: studentID}, CourseIDs: ids}, nil
}

func (m *enrollmentServiceMock) Unenroll(ctx context.Context, studentID, courseID string) error {
	m.record("unenroll", studentID, courseID)
	return m.err
}

func (m *enrollmentServiceMock) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	m.record("status", studentID, courseID)
	return m.enrolled, m.err
}

type testAPI struct {
	courses     *courseServiceMock
	students    *studentServiceMock
	enrollments *enrollmentServiceMock
	engine      *gin.Engine
}

func newTestAPI(opts RouteOptions) *testAPI {
	gin.SetMode(gin.TestMode)
	api := &testAPI{
		courses:     &courseServiceMock{},
		students:    &studentServiceMock{},
		enrollments: &enrollmentServiceMock{},
		engine:      gin.New(),
	}
	RegisterRoutes(api.engine.Group("/api/v1"), Handlers{
		Courses:     NewCourseHandler(api.courses, api.courses),
		Students:    NewStudentHandler(api.students, api.students, api.students),
		Enrollments: NewEnrollmentHandler(api.enrollments, api.enrollments),
		Metrics:     NewMetricsHandler(service.NewMetricsService(), nil),
	}, opts)
	return api
}

func (a *testAPI) do(method, path string, body interface{}, bearer string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data       json.RawMessage        `json:"data"`
	Pagination *models.Pagination     `json:"pagination"`
	Error      *errorBody             `json:"error"`
	Meta       map[string]interface{} `json:"meta"`
}

type errorBody struct {
	Code      string                 `json:"code"`
	Details   map[string]interface{} `json:"details"`
	Retryable bool                   `json:"retryable"`
}

func decode(rec *httptest.ResponseRecorder) envelope {
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return env
}
