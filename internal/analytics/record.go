// Package analytics computes cohort and per-student exit ticket analytics
// from normalized response records. It performs no I/O: callers hand it the
// full response history of a run and render the results themselves.
package analytics

import (
	"regexp"
	"strings"
)

var periodPattern = regexp.MustCompile(`^[0-9]+$`)

// RawResponse is one form submission as delivered by an ingestion adapter.
type RawResponse struct {
	Email         string
	StudentName   string
	TeacherName   string
	Period        string
	Score         float64
	PossibleScore float64
}

// ResponseRecord is a normalized submission: one per student per form.
type ResponseRecord struct {
	Email         string  `json:"email"`
	StudentName   string  `json:"student_name"`
	TeacherName   string  `json:"teacher_name"`
	Period        string  `json:"period"`
	Strand        string  `json:"strand"`
	FormTitle     string  `json:"form_title"`
	FormOrder     int     `json:"form_order"`
	Score         float64 `json:"score"`
	PossibleScore float64 `json:"possible_score"`
}

// Ratio returns score/possible, or 0 when no points were possible.
func (r ResponseRecord) Ratio() float64 {
	if r.PossibleScore == 0 {
		return 0
	}
	return r.Score / r.PossibleScore
}

// Batch is every response collected for one form.
type Batch struct {
	FormTitle string
	FormOrder int
	Strand    string
	Responses []RawResponse
}

// Form identifies one exit ticket in the catalogue of a run.
type Form struct {
	Order  int    `json:"form_order"`
	Title  string `json:"form_title"`
	Strand string `json:"form_strand"`
}

// ValidPeriod returns period unchanged when it is made only of ASCII digits,
// and the empty string otherwise.
func ValidPeriod(period string) string {
	if periodPattern.MatchString(period) {
		return period
	}
	return ""
}

// Normalize canonicalizes a raw response. Form identity fields are left zero;
// IndexBatches stamps them from the owning batch.
func Normalize(raw RawResponse) ResponseRecord {
	return ResponseRecord{
		Email:         NormalizeEmail(raw.Email),
		StudentName:   strings.TrimSpace(raw.StudentName),
		TeacherName:   strings.TrimSpace(raw.TeacherName),
		Period:        ValidPeriod(raw.Period),
		Score:         raw.Score,
		PossibleScore: raw.PossibleScore,
	}
}

// NormalizeEmail returns the student key for an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LocalPart returns the part of an address before the @, used on sheets.
func LocalPart(email string) string {
	if idx := strings.Index(email, "@"); idx >= 0 {
		return email[:idx]
	}
	return email
}
