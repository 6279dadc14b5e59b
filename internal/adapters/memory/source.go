package memory

import (
	"context"
	"sync"

	"github.com/manthysbr/aula/internal/core/domain"
	"github.com/manthysbr/aula/internal/core/ports"
)

// Source is an in-process SubmissionSource. Content is seeded by the caller.
type Source struct {
	mu          sync.RWMutex
	assignments map[domain.AssignmentID]domain.Assignment
	submissions map[domain.SubmissionID]domain.Submission
}

var _ ports.SubmissionSource = (*Source)(nil)

func NewSource() *Source {
	return &Source{
		assignments: make(map[domain.AssignmentID]domain.Assignment),
		submissions: make(map[domain.SubmissionID]domain.Submission),
	}
}

func (s *Source) PutAssignment(a domain.Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.ID] = a
}

func (s *Source) PutSubmission(sub domain.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[sub.ID] = sub
}

func (s *Source) GetAssignment(_ context.Context, id domain.AssignmentID) (*domain.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, domain.ErrAssignmentNotFound
	}
	return &a, nil
}

func (s *Source) GetSubmission(_ context.Context, id domain.SubmissionID) (*domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[id]
	if !ok {
		return nil, domain.ErrSubmissionNotFound
	}
	return &sub, nil
}
