package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionStudentsRead allows viewing student lists.
	PermissionStudentsRead Permission = "students:read"

	// PermissionStudentsWrite allows creating and importing students.
	PermissionStudentsWrite Permission = "students:write"

	// PermissionStudentsResetSession allows resetting a student's active login.
	PermissionStudentsResetSession Permission = "students:reset_session"

	// PermissionExamsRead allows viewing exams and their attempts.
	PermissionExamsRead Permission = "exams:read"

	// PermissionExamsWrite allows creating exams and editing their questions.
	PermissionExamsWrite Permission = "exams:write"

	// PermissionExamsWriteAll lifts the author restriction on exam edits.
	PermissionExamsWriteAll Permission = "exams:write_all"

	// PermissionExamsPublish allows publishing exams to students.
	PermissionExamsPublish Permission = "exams:publish"

	// PermissionExamsMonitor allows attaching to the live proctoring monitor.
	PermissionExamsMonitor Permission = "exams:monitor"

	// PermissionResultsRead allows viewing any attempt's full result.
	PermissionResultsRead Permission = "results:read"
)

// AllPermissions is a slice of all available permissions.
var AllPermissions = []Permission{
	PermissionStudentsRead,
	PermissionStudentsWrite,
	PermissionStudentsResetSession,
	PermissionExamsRead,
	PermissionExamsWrite,
	PermissionExamsWriteAll,
	PermissionExamsPublish,
	PermissionExamsMonitor,
	PermissionResultsRead,
}

// PermissionCodes returns AllPermissions as plain strings.
func PermissionCodes() []string {
	codes := make([]string, len(AllPermissions))
	for i, p := range AllPermissions {
		codes[i] = string(p)
	}
	return codes
}
