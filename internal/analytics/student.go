package analytics

import "sort"

// CompletedForm is one submitted form with the student's, class's and grade
// level's percentage on it.
type CompletedForm struct {
	FormOrder     int     `json:"form_order"`
	FormTitle     string  `json:"form_title"`
	FormStrand    string  `json:"form_strand"`
	StudentAvg    float64 `json:"student_avg"`
	ClassAvg      float64 `json:"class_avg"`
	GradeLevelAvg float64 `json:"grade_level_avg"`
}

type MissingForm struct {
	FormOrder  int    `json:"form_order"`
	FormTitle  string `json:"form_title"`
	FormStrand string `json:"form_strand"`
}

// StudentReport is the longitudinal report for one student. Every average is
// a percentage on a 0-100 scale.
type StudentReport struct {
	DisplayName  string          `json:"display_name"`
	Email        string          `json:"email"`
	Completed    []CompletedForm `json:"completed"`
	Missing      []MissingForm   `json:"missing"`
	Average      float64         `json:"average"`
	Period       string          `json:"period"`
	Teacher      string          `json:"teacher"`
	ClassAverage float64         `json:"class_average"`
}

// BuildReports returns one report per student, sorted by email.
func BuildReports(idx *IndexedData) []StudentReport {
	return idx.StudentReports()
}

func (idx *IndexedData) StudentReports() []StudentReport {
	emails := make([]string, 0, len(idx.StudentHistory))
	for email := range idx.StudentHistory {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	orders := idx.FormOrders()
	reports := make([]StudentReport, 0, len(emails))
	for _, email := range emails {
		reports = append(reports, idx.studentReport(email, orders))
	}
	return reports
}

func (idx *IndexedData) studentReport(email string, orders []int) StudentReport {
	history := idx.StudentHistory[email]

	done := make(map[int]bool, len(history))
	completed := make([]CompletedForm, 0, len(history))
	var overall totals
	for _, record := range history {
		done[record.FormOrder] = true
		overall.score += record.Score
		overall.possible += record.PossibleScore

		form := idx.Forms[record.FormOrder]
		completed = append(completed, CompletedForm{
			FormOrder:     record.FormOrder,
			FormTitle:     form.Title,
			FormStrand:    form.Strand,
			StudentAvg:    record.Ratio() * 100,
			ClassAvg:      idx.formTeacherTotals[formTeacherKey{FormOrder: record.FormOrder, Teacher: record.TeacherName}].percent(),
			GradeLevelAvg: idx.formTotals[record.FormOrder].percent(),
		})
	}

	missing := []MissingForm{}
	for _, order := range orders {
		if done[order] {
			continue
		}
		form := idx.Forms[order]
		missing = append(missing, MissingForm{FormOrder: order, FormTitle: form.Title, FormStrand: form.Strand})
	}

	home := homeSection(history)
	report := StudentReport{
		DisplayName: commonName(history),
		Email:       email,
		Completed:   completed,
		Missing:     missing,
		Average:     overall.percent(),
		Period:      home.Period,
		Teacher:     home.Teacher,
	}
	if stat, ok := idx.TeacherPeriodStat[home]; ok && stat.TotalPossible > 0 {
		report.ClassAverage = stat.TotalScore / stat.TotalPossible * 100
	}
	return report
}

// homeSection picks the student's most frequent period and teacher pair.
// Ties go to the pair seen first.
func homeSection(history []ResponseRecord) TeacherPeriodKey {
	counts := map[TeacherPeriodKey]int{}
	var best TeacherPeriodKey
	bestCount := 0
	for _, record := range history {
		counts[TeacherPeriodKey{Period: record.Period, Teacher: record.TeacherName}]++
	}
	for _, record := range history {
		key := TeacherPeriodKey{Period: record.Period, Teacher: record.TeacherName}
		if counts[key] > bestCount {
			best, bestCount = key, counts[key]
		}
	}
	return best
}

func commonName(history []ResponseRecord) string {
	names := make([]string, 0, len(history))
	for _, record := range history {
		names = append(names, record.StudentName)
	}
	return mostCommon(names)
}
