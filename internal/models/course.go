package models

import "time"

// Course is an offering students can enroll in, bounded by Capacity seats.
type Course struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Title     string    `db:"title" json:"title"`
	Credits   int       `db:"credits" json:"credits"`
	Capacity  int       `db:"capacity" json:"capacity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CourseSummary is a course together with its derived enrollment figures.
type CourseSummary struct {
	Course
	EnrolledCount int `db:"enrolled_count" json:"enrolled_count"`
}

// SeatsLeft returns the number of free seats, never negative.
func (c CourseSummary) SeatsLeft() int {
	if left := c.Capacity - c.EnrolledCount; left > 0 {
		return left
	}
	return 0
}

// IsFull reports whether the course admits no further students.
func (c CourseSummary) IsFull() bool {
	return c.EnrolledCount >= c.Capacity
}

// CourseFilter defines filter criteria for listing courses.
type CourseFilter struct {
	Search    string
	OnlyOpen  bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// CourseRoster is a course with every student currently holding it.
type CourseRoster struct {
	Course   Course    `json:"course"`
	Students []Student `json:"students"`
}
