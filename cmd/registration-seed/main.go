package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/repository"
	"github.com/noah-isme/course-registration-api/internal/seed"
	"github.com/noah-isme/course-registration-api/internal/service"
	"github.com/noah-isme/course-registration-api/pkg/config"
	"github.com/noah-isme/course-registration-api/pkg/database"
	"github.com/noah-isme/course-registration-api/pkg/logger"
)

func main() {
	var (
		path    string
		timeout time.Duration
	)
	flag.StringVar(&path, "file", "seed.yaml", "Catalogue YAML file")
	flag.DurationVar(&timeout, "timeout", time.Minute, "Overall timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	f, err := os.Open(path)
	if err != nil {
		logr.Fatal("failed to open catalogue", zap.String("file", path), zap.Error(err))
	}
	cat, err := seed.Load(f)
	_ = f.Close()
	if err != nil {
		logr.Fatal("invalid catalogue", zap.String("file", path), zap.Error(err))
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	metrics := service.NewMetricsService()
	cacheSvc := service.NewCacheService(nil, metrics, cfg.Courses.CacheTTL, logr, false)
	tx := database.NewTxManager(db, cfg.Database.LockTimeout, cfg.Database.TxTimeout)
	courseRepo := repository.NewCourseRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)

	courses := service.NewCourseService(tx, courseRepo, enrollmentRepo, cacheSvc, metrics, cfg.Courses.DeletePolicy, nil, logr)
	enrollments := service.NewEnrollmentService(tx, studentRepo, courseRepo, enrollmentRepo, cacheSvc, metrics, nil, logr)
	queries := service.NewQueryService(courseRepo, studentRepo, enrollmentRepo, cacheSvc, cfg.Courses.CacheTTL, logr)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	report, err := seed.NewSeeder(courses, queries, enrollments, logr).Apply(ctx, cat)
	if err != nil {
		logr.Fatal("seeding aborted", zap.Error(err))
	}
	for _, line := range report.Rejected {
		fmt.Println("rejected:", line)
	}
	fmt.Printf("courses: %d created, %d existing; students: %d created, %d existing\n",
		report.CoursesCreated, report.CoursesSkipped, report.StudentsCreated, report.StudentsSkipped)
}
