package models

import "time"

// Enrollment is one membership of a student in a course.
type Enrollment struct {
	StudentID  string    `db:"student_id" json:"student_id"`
	CourseID   string    `db:"course_id" json:"course_id"`
	EnrolledAt time.Time `db:"enrolled_at" json:"enrolled_at"`
}

// EnrollmentOutcome labels how an enrollment attempt ended.
type EnrollmentOutcome string

// Possible enrollment outcomes.
const (
	EnrollmentCommitted        EnrollmentOutcome = "committed"
	EnrollmentNoop             EnrollmentOutcome = "noop"
	EnrollmentRejectedCapacity EnrollmentOutcome = "rejected_capacity"
	EnrollmentRejectedNotFound EnrollmentOutcome = "rejected_not_found"
	EnrollmentRejectedInput    EnrollmentOutcome = "rejected_input"
	EnrollmentFailed           EnrollmentOutcome = "failed"
)
