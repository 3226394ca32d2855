// Package migrations carries the database schema the registry expects. It is
// applied by operators or test setup, never by the server.
package migrations

import _ "embed"

// Schema creates the courses, students and enrollments tables.
//
//go:embed schema.sql
var Schema string
