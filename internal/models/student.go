package models

import "time"

// Student represents a learner identified by a unique matricola.
type Student struct {
	ID        string    `db:"id" json:"id"`
	Matricola string    `db:"matricola" json:"matricola"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	CourseID  string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// StudentDetail contains a student with the set of courses currently held.
type StudentDetail struct {
	Student
	CourseIDs []string `json:"course_ids"`
}

// HasCourse reports whether courseID is part of the student's enrollment set.
func (d StudentDetail) HasCourse(courseID string) bool {
	for _, id := range d.CourseIDs {
		if id == courseID {
			return true
		}
	}
	return false
}
