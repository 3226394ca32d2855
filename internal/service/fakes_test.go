package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/pkg/database"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
)

// memDB is an in-memory stand-in for the relational store.
type memDB struct {
	mu       sync.Mutex
	courses  map[string]models.Course
	students map[string]models.Student
	enrolled map[string][]string // student ID -> course IDs in insertion order
	writes   int
	fail     map[string]error

	// Row locks taken through lockRow, held until the owning tx ends.
	rowMu      sync.Mutex
	rows       map[string]*sync.Mutex
	countDelay time.Duration
}

func newMemDB() *memDB {
	return &memDB{
		courses:  make(map[string]models.Course),
		students: make(map[string]models.Student),
		enrolled: make(map[string][]string),
		fail:     make(map[string]error),
		rows:     make(map[string]*sync.Mutex),
	}
}

type txScopeKey struct{}

type txScope struct {
	unlocks []func()
}

// lockRow blocks until the row is free and keeps it until the tx in ctx ends.
// Outside a concurrent tx it does nothing.
func (m *memDB) lockRow(ctx context.Context, key string) {
	scope, _ := ctx.Value(txScopeKey{}).(*txScope)
	if scope == nil {
		return
	}
	m.rowMu.Lock()
	l, ok := m.rows[key]
	if !ok {
		l = &sync.Mutex{}
		m.rows[key] = l
	}
	m.rowMu.Unlock()
	l.Lock()
	scope.unlocks = append(scope.unlocks, l.Unlock)
}

type memSnapshot struct {
	courses  map[string]models.Course
	students map[string]models.Student
	enrolled map[string][]string
}

func (m *memDB) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := memSnapshot{
		courses:  make(map[string]models.Course, len(m.courses)),
		students: make(map[string]models.Student, len(m.students)),
		enrolled: make(map[string][]string, len(m.enrolled)),
	}
	for k, v := range m.courses {
		snap.courses[k] = v
	}
	for k, v := range m.students {
		snap.students[k] = v
	}
	for k, v := range m.enrolled {
		snap.enrolled[k] = append([]string(nil), v...)
	}
	return snap
}

func (m *memDB) restore(snap memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses = snap.courses
	m.students = snap.students
	m.enrolled = snap.enrolled
}

func (m *memDB) failure(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fail[op]
}

func (m *memDB) setFailure(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = err
}

func (m *memDB) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memDB) nextID() string {
	return uuid.NewString()
}

func (m *memDB) countLocked(courseID, excludeStudentID string) int {
	n := 0
	for sid, ids := range m.enrolled {
		if sid == excludeStudentID {
			continue
		}
		for _, id := range ids {
			if id == courseID {
				n++
			}
		}
	}
	return n
}

func (m *memDB) courseIDs(studentID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.enrolled[studentID]...)
}

func (m *memDB) enrolledCount(courseID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(courseID, "")
}

// fakeTxRunner serialises transactions and restores the pre-transaction
// state when fn fails, like a store rolling back. With concurrent set,
// transactions overlap and only the row locks taken by LockByID order them;
// rollback then restores nothing.
type fakeTxRunner struct {
	mu         sync.Mutex
	db         *memDB
	concurrent bool
	commits    int
	rollbacks  int
}

func (r *fakeTxRunner) InTx(ctx context.Context, fn database.TxFunc) error {
	if r.concurrent {
		scope := &txScope{}
		defer func() {
			for i := len(scope.unlocks) - 1; i >= 0; i-- {
				scope.unlocks[i]()
			}
		}()
		err := fn(context.WithValue(ctx, txScopeKey{}, scope), nil)
		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			r.rollbacks++
			return err
		}
		r.commits++
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.db.snapshot()
	if err := fn(ctx, nil); err != nil {
		r.db.restore(snap)
		r.rollbacks++
		return err
	}
	r.commits++
	return nil
}

type fakeCourseStore struct{ db *memDB }

func (f *fakeCourseStore) FindByID(ctx context.Context, id string) (*models.Course, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c, ok := f.db.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (f *fakeCourseStore) LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Course, error) {
	if err := f.db.failure("courses.LockByID"); err != nil {
		return nil, err
	}
	f.db.lockRow(ctx, "course:"+id)
	return f.FindByID(ctx, id)
}

func (f *fakeCourseStore) FindByCode(ctx context.Context, code string) (*models.Course, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, c := range f.db.courses {
		if c.Code == code {
			c := c
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCourseStore) ExistsByCode(ctx context.Context, tx *sqlx.Tx, code, excludeID string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for id, c := range f.db.courses {
		if c.Code == code && id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCourseStore) Create(ctx context.Context, tx *sqlx.Tx, course *models.Course) error {
	if err := f.db.failure("courses.Create"); err != nil {
		return err
	}
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if course.ID == "" {
		course.ID = f.db.nextID()
	}
	course.CreatedAt = time.Now().UTC()
	course.UpdatedAt = course.CreatedAt
	f.db.courses[course.ID] = *course
	f.db.writes++
	return nil
}

func (f *fakeCourseStore) Update(ctx context.Context, tx *sqlx.Tx, course *models.Course) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	course.UpdatedAt = time.Now().UTC()
	f.db.courses[course.ID] = *course
	f.db.writes++
	return nil
}

func (f *fakeCourseStore) Delete(ctx context.Context, tx *sqlx.Tx, id string) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if _, ok := f.db.courses[id]; !ok {
		return 0, nil
	}
	delete(f.db.courses, id)
	f.db.writes++
	return 1, nil
}

func (f *fakeCourseStore) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseSummary, int, error) {
	if err := f.db.failure("courses.List"); err != nil {
		return nil, 0, err
	}
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.CourseSummary
	for _, c := range f.db.courses {
		if filter.Search != "" && !strings.Contains(strings.ToLower(c.Code+" "+c.Title), strings.ToLower(filter.Search)) {
			continue
		}
		summary := models.CourseSummary{Course: c, EnrolledCount: f.db.countLocked(c.ID, "")}
		if filter.OnlyOpen && summary.IsFull() {
			continue
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, len(out), nil
}

type fakeStudentStore struct{ db *memDB }

func (f *fakeStudentStore) FindByID(ctx context.Context, id string) (*models.Student, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	s, ok := f.db.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (f *fakeStudentStore) LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Student, error) {
	if err := f.db.failure("students.LockByID"); err != nil {
		return nil, err
	}
	f.db.lockRow(ctx, "student:"+id)
	return f.FindByID(ctx, id)
}

func (f *fakeStudentStore) FindByMatricola(ctx context.Context, matricola string) (*models.Student, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, s := range f.db.students {
		if s.Matricola == matricola {
			s := s
			return &s, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStudentStore) ExistsByMatricola(ctx context.Context, tx *sqlx.Tx, matricola, excludeID string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for id, s := range f.db.students {
		if s.Matricola == matricola && id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStudentStore) Create(ctx context.Context, tx *sqlx.Tx, student *models.Student) error {
	if err := f.db.failure("students.Create"); err != nil {
		return err
	}
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if student.ID == "" {
		student.ID = f.db.nextID()
	}
	student.CreatedAt = time.Now().UTC()
	student.UpdatedAt = student.CreatedAt
	f.db.students[student.ID] = *student
	f.db.writes++
	return nil
}

func (f *fakeStudentStore) Update(ctx context.Context, tx *sqlx.Tx, student *models.Student) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	student.UpdatedAt = time.Now().UTC()
	f.db.students[student.ID] = *student
	f.db.writes++
	return nil
}

func (f *fakeStudentStore) Delete(ctx context.Context, tx *sqlx.Tx, id string) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if _, ok := f.db.students[id]; !ok {
		return 0, nil
	}
	delete(f.db.students, id)
	f.db.writes++
	return 1, nil
}

func (f *fakeStudentStore) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.Student
	for _, s := range f.db.students {
		if filter.CourseID != "" && !containsID(f.db.enrolled[s.ID], filter.CourseID) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Matricola < out[j].Matricola })
	return out, len(out), nil
}

type fakeEnrollmentStore struct{ db *memDB }

func (f *fakeEnrollmentStore) CourseIDs(ctx context.Context, tx *sqlx.Tx, studentID string) ([]string, error) {
	return f.db.courseIDs(studentID), nil
}

func (f *fakeEnrollmentStore) CountByCourse(ctx context.Context, tx *sqlx.Tx, courseID, excludeStudentID string) (int, error) {
	if err := f.db.failure("enrollments.CountByCourse"); err != nil {
		return 0, err
	}
	f.db.mu.Lock()
	delay := f.db.countDelay
	f.db.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.db.countLocked(courseID, excludeStudentID), nil
}

func (f *fakeEnrollmentStore) Insert(ctx context.Context, tx *sqlx.Tx, studentID, courseID string) error {
	if err := f.db.failure("enrollments.Insert"); err != nil {
		return err
	}
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if containsID(f.db.enrolled[studentID], courseID) {
		return nil
	}
	f.db.enrolled[studentID] = append(f.db.enrolled[studentID], courseID)
	f.db.writes++
	return nil
}

func (f *fakeEnrollmentStore) Delete(ctx context.Context, tx *sqlx.Tx, studentID, courseID string) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	ids := f.db.enrolled[studentID]
	for i, id := range ids {
		if id == courseID {
			f.db.enrolled[studentID] = append(ids[:i:i], ids[i+1:]...)
			f.db.writes++
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeEnrollmentStore) DeleteByStudent(ctx context.Context, tx *sqlx.Tx, studentID string) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	n := int64(len(f.db.enrolled[studentID]))
	delete(f.db.enrolled, studentID)
	f.db.writes++
	return n, nil
}

func (f *fakeEnrollmentStore) DeleteByCourse(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var n int64
	for sid, ids := range f.db.enrolled {
		kept := ids[:0:0]
		for _, id := range ids {
			if id == courseID {
				n++
				continue
			}
			kept = append(kept, id)
		}
		f.db.enrolled[sid] = kept
	}
	f.db.writes++
	return n, nil
}

func (f *fakeEnrollmentStore) CountForCourse(ctx context.Context, courseID string) (int, error) {
	return f.db.enrolledCount(courseID), nil
}

func (f *fakeEnrollmentStore) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	return containsID(f.db.courseIDs(studentID), courseID), nil
}

func (f *fakeEnrollmentStore) ListByStudents(ctx context.Context, studentIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(studentIDs))
	for _, id := range studentIDs {
		if ids := f.db.courseIDs(id); len(ids) > 0 {
			out[id] = ids
		}
	}
	return out, nil
}

// fakeCacheRepo records cache traffic.
type fakeCacheRepo struct {
	mu          sync.Mutex
	entries     map[string]interface{}
	invalidated []string
	generations map[string]int64
	getErr      error
	sets        int
}

func newFakeCacheRepo() *fakeCacheRepo {
	return &fakeCacheRepo{entries: make(map[string]interface{}), generations: make(map[string]int64)}
}

func (f *fakeCacheRepo) Generation(ctx context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return 0, f.getErr
	}
	return f.generations[name], nil
}

func (f *fakeCacheRepo) BumpGeneration(ctx context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generations[name]++
	return f.generations[name], nil
}

func (f *fakeCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return f.getErr
	}
	v, ok := f.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	if listing, ok := v.(CourseListing); ok {
		if d, ok := dest.(*CourseListing); ok {
			*d = listing
			return nil
		}
	}
	return appErrors.ErrCacheMiss
}

func (f *fakeCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = value
	f.sets++
	return nil
}

func (f *fakeCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range f.entries {
		if strings.HasPrefix(k, prefix) {
			delete(f.entries, k)
		}
	}
	return nil
}

func (f *fakeCacheRepo) invalidations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.invalidated)
}

// registry wires every service onto one memDB.
type registry struct {
	db          *memDB
	runner      *fakeTxRunner
	cacheRepo   *fakeCacheRepo
	metrics     *MetricsService
	courses     *CourseService
	students    *StudentService
	enrollments *EnrollmentService
	queries     *QueryService
}

func newRegistry(deletePolicy string) *registry {
	db := newMemDB()
	runner := &fakeTxRunner{db: db}
	cacheRepo := newFakeCacheRepo()
	metrics := NewMetricsService()
	cache := NewCacheService(cacheRepo, metrics, time.Minute, nil, true)
	courseStore := &fakeCourseStore{db: db}
	studentStore := &fakeStudentStore{db: db}
	enrollmentStore := &fakeEnrollmentStore{db: db}
	return &registry{
		db:          db,
		runner:      runner,
		cacheRepo:   cacheRepo,
		metrics:     metrics,
		courses:     NewCourseService(runner, courseStore, enrollmentStore, cache, metrics, deletePolicy, nil, nil),
		students:    NewStudentService(runner, studentStore, enrollmentStore, cache, metrics, deletePolicy, nil, nil),
		enrollments: NewEnrollmentService(runner, studentStore, courseStore, enrollmentStore, cache, metrics, nil, nil),
		queries:     NewQueryService(courseStore, studentStore, enrollmentStore, cache, time.Minute, nil),
	}
}
