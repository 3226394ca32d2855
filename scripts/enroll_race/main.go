package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/internal/service"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type client struct {
	http  *http.Client
	base  string
	token string
}

type tally struct {
	mu       sync.Mutex
	admitted int
	full     int
	other    map[string]int
}

func main() {
	var (
		base     string
		secret   string
		issuer   string
		students int
		capacity int
		timeout  time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080/api/v1", "API base URL including the prefix")
	flag.StringVar(&secret, "secret", "dev_secret", "JWT secret used to mint an admin token")
	flag.StringVar(&issuer, "issuer", "", "JWT issuer")
	flag.IntVar(&students, "students", 50, "Number of concurrent students")
	flag.IntVar(&capacity, "capacity", 10, "Course capacity")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	flag.Parse()

	auth := service.NewAuthService(zap.NewNop(), service.AuthConfig{Secret: secret, Issuer: issuer})
	token, _, err := auth.IssueToken("enroll-race", models.RoleAdmin, "")
	if err != nil {
		log.Fatalf("failed to issue token: %v", err)
	}
	c := &client{http: &http.Client{Timeout: timeout}, base: strings.TrimRight(base, "/"), token: token}
	ctx := context.Background()
	run := time.Now().UnixNano()

	var course models.Course
	code := fmt.Sprintf("RACE-%d", run%1_000_000)
	if err := c.call(ctx, http.MethodPost, "/courses", map[string]interface{}{
		"code": code, "title": "Enrollment race", "credits": 1, "capacity": capacity,
	}, &course); err != nil {
		log.Fatalf("failed to create course: %v", err)
	}

	ids := make([]string, students)
	for i := range ids {
		var st models.StudentDetail
		if err := c.call(ctx, http.MethodPost, "/students", map[string]interface{}{
			"matricola": fmt.Sprintf("R%d-%04d", run%1_000_000, i),
			"full_name": fmt.Sprintf("Racer %d", i),
			"email":     fmt.Sprintf("racer%d@example.test", i),
		}, &st); err != nil {
			log.Fatalf("failed to create student %d: %v", i, err)
		}
		ids[i] = st.ID
	}

	result := &tally{other: map[string]int{}}
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			err := c.call(gctx, http.MethodPost, "/students/"+id+"/enrollments", map[string]string{"course_id": course.ID}, nil)
			result.record(err)
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	var count struct {
		Enrolled int `json:"enrolled"`
	}
	if err := c.call(ctx, http.MethodGet, "/courses/"+course.ID+"/enrolled-count", nil, &count); err != nil {
		log.Fatalf("failed to read enrolled count: %v", err)
	}

	want := min(students, capacity)
	fmt.Printf("course %s capacity=%d contenders=%d elapsed=%s\n", code, capacity, students, elapsed.Round(time.Millisecond))
	fmt.Printf("admitted=%d capacity_exceeded=%d other=%v enrolled_count=%d\n", result.admitted, result.full, result.other, count.Enrolled)

	if count.Enrolled != want || result.admitted != want {
		fmt.Printf("FAIL: expected exactly %d enrolled\n", want)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func (t *tally) record(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		t.admitted++
		return
	}
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.other["transport"]++
		return
	}
	if apiErr.Code == "CAPACITY_EXCEEDED" {
		t.full++
		return
	}
	t.other[apiErr.Code]++
}

type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func (c *client) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}
