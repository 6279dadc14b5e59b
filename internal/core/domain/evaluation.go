package domain

// Rubric is the grading context handed to the grader for every submission of
// an assignment. It is passed through the pipeline, never constructed here.
type Rubric struct {
	Domains      []string `json:"domains"`
	Levels       []string `json:"levels"`
	CriteriaText string   `json:"criteria_text"`
}

// DomainScore is the grader's verdict on a single rubric domain.
type DomainScore struct {
	Level    string  `json:"level"`
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Evaluation is the result of grading one submission.
//
// Degraded is set only by a substitute evaluator when the grading model was
// unreachable: consumers must rely on this flag, never on inspecting the
// feedback text.
type Evaluation struct {
	OverallLevel string                 `json:"overall_level"`
	DomainScores map[string]DomainScore `json:"domain_scores"`
	Strengths    []string               `json:"strengths"`
	Improvements []string               `json:"improvements"`
	Feedback     string                 `json:"feedback"`
	Degraded     bool                   `json:"degraded,omitempty"`
}

// Assignment carries the rubric a batch grades against.
type Assignment struct {
	ID     AssignmentID `json:"id"`
	Title  string       `json:"title"`
	Rubric Rubric       `json:"rubric"`
}

// Submission is one student's gradable content for an assignment.
type Submission struct {
	ID           SubmissionID `json:"id"`
	AssignmentID AssignmentID `json:"assignment_id"`
	StudentName  string       `json:"student_name"`
	Content      string       `json:"content"`
}
