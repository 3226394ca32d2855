// Package seed loads a course and student catalogue from YAML and applies it
// through the registry services, so every invariant check still runs.
package seed

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/internal/service"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
)

// Catalogue is the seed file layout.
type Catalogue struct {
	Courses  []Course  `yaml:"courses"`
	Students []Student `yaml:"students"`
}

// Course is one seeded course.
type Course struct {
	Code     string `yaml:"code"`
	Title    string `yaml:"title"`
	Credits  int    `yaml:"credits"`
	Capacity int    `yaml:"capacity"`
}

// Student is one seeded student. Course refers to a course code.
type Student struct {
	Matricola string `yaml:"matricola"`
	FullName  string `yaml:"full_name"`
	Email     string `yaml:"email"`
	Course    string `yaml:"course"`
}

// Report counts what Apply did.
type Report struct {
	CoursesCreated  int
	CoursesSkipped  int
	StudentsCreated int
	StudentsSkipped int
	Rejected        []string
}

type courseCreator interface {
	Create(ctx context.Context, req service.CreateCourseRequest) (*models.Course, error)
}

type courseFinder interface {
	FindCourseByCode(ctx context.Context, code string) (*models.Course, error)
}

type studentRegistrar interface {
	Register(ctx context.Context, req service.RegisterStudentRequest) (*models.StudentDetail, error)
}

// Seeder applies catalogues.
type Seeder struct {
	courses  courseCreator
	lookup   courseFinder
	students studentRegistrar
	logger   *zap.Logger
}

// NewSeeder constructs a Seeder.
func NewSeeder(courses courseCreator, lookup courseFinder, students studentRegistrar, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{courses: courses, lookup: lookup, students: students, logger: logger}
}

// Load decodes a catalogue, rejecting unknown keys.
func Load(r io.Reader) (*Catalogue, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var cat Catalogue
	if err := dec.Decode(&cat); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	return &cat, nil
}

// Apply creates the courses and then the students. Entries that already
// exist are skipped; entries the registry rejects are reported and the run
// continues. Store failures abort.
func (s *Seeder) Apply(ctx context.Context, cat *Catalogue) (*Report, error) {
	report := &Report{}
	for _, c := range cat.Courses {
		_, err := s.courses.Create(ctx, service.CreateCourseRequest{Code: c.Code, Title: c.Title, Credits: c.Credits, Capacity: c.Capacity})
		switch {
		case err == nil:
			report.CoursesCreated++
		case appErrors.Is(err, appErrors.ErrDuplicate.Code):
			report.CoursesSkipped++
		case rejected(err):
			report.Rejected = append(report.Rejected, fmt.Sprintf("course %s: %s", c.Code, appErrors.FromError(err).Message))
		default:
			return report, fmt.Errorf("seed course %s: %w", c.Code, err)
		}
	}

	courseIDs := map[string]string{}
	for _, st := range cat.Students {
		req := service.RegisterStudentRequest{CreateStudentRequest: service.CreateStudentRequest{
			Matricola: st.Matricola, FullName: st.FullName, Email: st.Email,
		}}
		if code := strings.TrimSpace(st.Course); code != "" {
			id, err := s.courseID(ctx, courseIDs, code)
			if err != nil {
				if rejected(err) {
					report.Rejected = append(report.Rejected, fmt.Sprintf("student %s: unknown course %s", st.Matricola, code))
					continue
				}
				return report, err
			}
			req.CourseID = id
		}

		_, err := s.students.Register(ctx, req)
		switch {
		case err == nil:
			report.StudentsCreated++
		case appErrors.Is(err, appErrors.ErrDuplicate.Code):
			report.StudentsSkipped++
		case rejected(err):
			report.Rejected = append(report.Rejected, fmt.Sprintf("student %s: %s", st.Matricola, appErrors.FromError(err).Message))
		default:
			return report, fmt.Errorf("seed student %s: %w", st.Matricola, err)
		}
	}

	s.logger.Info("catalogue seeded",
		zap.Int("courses_created", report.CoursesCreated),
		zap.Int("courses_skipped", report.CoursesSkipped),
		zap.Int("students_created", report.StudentsCreated),
		zap.Int("students_skipped", report.StudentsSkipped),
		zap.Int("rejected", len(report.Rejected)),
	)
	return report, nil
}

func (s *Seeder) courseID(ctx context.Context, cache map[string]string, code string) (string, error) {
	if id, ok := cache[code]; ok {
		return id, nil
	}
	course, err := s.lookup.FindCourseByCode(ctx, code)
	if err != nil {
		return "", err
	}
	cache[code] = course.ID
	return course.ID, nil
}

func rejected(err error) bool {
	switch appErrors.FromError(err).Code {
	case appErrors.ErrValidation.Code, appErrors.ErrNotFound.Code, appErrors.ErrCapacityExceeded.Code:
		return true
	}
	return false
}
