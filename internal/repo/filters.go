package repo

import (
	"strings"
	"time"

	"teamtacles/internal/domain"
)

// TaskFilter narrows task queries. Absent fields do not constrain.
// MemberID matches tasks the user owns or is responsible for.
type TaskFilter struct {
	Status    domain.Opt[domain.Status]
	DueBefore domain.Opt[time.Time]
	ProjectID domain.Opt[int64]
	MemberID  domain.Opt[int64]
}

// where expects tasks aliased as t and task_responsibles as tr.
func (f TaskFilter) where() (string, []any) {
	var clauses []string
	var args []any
	if status, ok := f.Status.Get(); ok {
		clauses = append(clauses, "t.status = ?")
		args = append(args, string(status))
	}
	if due, ok := f.DueBefore.Get(); ok {
		clauses = append(clauses, "t.due_date <= ?")
		args = append(args, FormatDue(due))
	}
	if projectID, ok := f.ProjectID.Get(); ok {
		clauses = append(clauses, "t.project_id = ?")
		args = append(args, projectID)
	}
	if memberID, ok := f.MemberID.Get(); ok {
		clauses = append(clauses, "(t.owner_id = ? OR tr.user_id = ?)")
		args = append(args, memberID, memberID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// FormatDue stores due dates as fixed-width UTC RFC3339 so that text
// comparison orders them chronologically.
func FormatDue(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func parseDue(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339, raw)
}
