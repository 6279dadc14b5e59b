package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/manthysbr/aula/internal/core/domain"
	"github.com/manthysbr/aula/internal/core/ports"
)

var _ ports.SubmissionSource = (*Repository)(nil)

func (r *Repository) GetAssignment(ctx context.Context, id domain.AssignmentID) (*domain.Assignment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, CAST(rubric AS TEXT) FROM assignments WHERE id = ?`, string(id))

	var a domain.Assignment
	var idStr, rubricJSON string
	if err := row.Scan(&idStr, &a.Title, &rubricJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrAssignmentNotFound
		}
		return nil, err
	}
	a.ID = domain.AssignmentID(idStr)
	if err := json.Unmarshal([]byte(rubricJSON), &a.Rubric); err != nil {
		return nil, fmt.Errorf("unmarshal rubric: %w", err)
	}
	return &a, nil
}

func (r *Repository) GetSubmission(ctx context.Context, id domain.SubmissionID) (*domain.Submission, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, assignment_id, student_name, content FROM submissions WHERE id = ?`, string(id))

	var s domain.Submission
	var idStr, assignmentStr string
	if err := row.Scan(&idStr, &assignmentStr, &s.StudentName, &s.Content); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrSubmissionNotFound
		}
		return nil, err
	}
	s.ID = domain.SubmissionID(idStr)
	s.AssignmentID = domain.AssignmentID(assignmentStr)
	return &s, nil
}

// SaveAssignment upserts rubric context. The CRUD surface that manages
// assignments lives in another service; this is the ingest path it uses.
func (r *Repository) SaveAssignment(ctx context.Context, a domain.Assignment) error {
	rubricJSON, err := json.Marshal(a.Rubric)
	if err != nil {
		return fmt.Errorf("marshal rubric: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO assignments (id, title, rubric) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title  = excluded.title,
			rubric = excluded.rubric`,
		string(a.ID), a.Title, string(rubricJSON))
	return err
}

// SaveSubmission upserts one student's gradable content.
func (r *Repository) SaveSubmission(ctx context.Context, s domain.Submission) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO submissions (id, assignment_id, student_name, content) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			assignment_id = excluded.assignment_id,
			student_name  = excluded.student_name,
			content       = excluded.content`,
		string(s.ID), string(s.AssignmentID), s.StudentName, s.Content)
	return err
}
