package analytics

import (
	"math"
	"sort"
	"strconv"
)

const (
	DefaultCompletionThreshold = 0.5
	DefaultDecileFraction      = 0.1
	DefaultFlierWindow         = 3
	DefaultFlierThreshold      = 0.25
)

// Options holds the cohort heuristics. Zero fields take the defaults.
type Options struct {
	CompletionThreshold float64 `yaml:"completion_threshold" json:"completion_threshold"`
	DecileFraction      float64 `yaml:"decile_fraction" json:"decile_fraction"`
	FlierWindow         int     `yaml:"flier_window" json:"flier_window"`
	FlierThreshold      float64 `yaml:"flier_threshold" json:"flier_threshold"`
}

func DefaultOptions() Options {
	return Options{
		CompletionThreshold: DefaultCompletionThreshold,
		DecileFraction:      DefaultDecileFraction,
		FlierWindow:         DefaultFlierWindow,
		FlierThreshold:      DefaultFlierThreshold,
	}
}

func (o Options) withDefaults() Options {
	if o.CompletionThreshold <= 0 {
		o.CompletionThreshold = DefaultCompletionThreshold
	}
	if o.DecileFraction <= 0 {
		o.DecileFraction = DefaultDecileFraction
	}
	if o.FlierWindow <= 0 {
		o.FlierWindow = DefaultFlierWindow
	}
	if o.FlierThreshold <= 0 {
		o.FlierThreshold = DefaultFlierThreshold
	}
	return o
}

type TeacherPeriodAverage struct {
	TeacherPeriod string  `json:"teacher_period"`
	Period        string  `json:"period"`
	Teacher       string  `json:"teacher"`
	AvgScore      float64 `json:"avg_score"`
}

// StudentRef names a student in a ranking or flier list. Teacher is the
// teacher on the student's most recent submission.
type StudentRef struct {
	Email       string `json:"email"`
	StudentName string `json:"student_name"`
	Teacher     string `json:"teacher"`
}

// StrandTeachers is the best and worst teacher of a strand. WorstTeacher is
// nil when only one teacher could be ranked.
type StrandTeachers struct {
	BestTeacher  string  `json:"best_teacher"`
	WorstTeacher *string `json:"worst_teacher"`
}

type TeacherAverage struct {
	Teacher string  `json:"teacher"`
	Average float64 `json:"average"`
}

// FormAverage is the grade-level and per-teacher result on one form, 0-100.
type FormAverage struct {
	FormOrder         int              `json:"form_order"`
	FormTitle         string           `json:"form_title"`
	FormStrand        string           `json:"form_strand"`
	GradeLevelAverage float64          `json:"grade_level_average"`
	TeacherAverages   []TeacherAverage `json:"teacher_averages"`
}

type CohortReport struct {
	TeacherPeriodAverages []TeacherPeriodAverage    `json:"teacher_period_averages"`
	Top10Students         []StudentRef              `json:"top10_students"`
	Bottom10Students      []StudentRef              `json:"bottom10_students"`
	TopFliers             []StudentRef              `json:"top_fliers"`
	BottomFliers          []StudentRef              `json:"bottom_fliers"`
	TopBottomTeachers     map[string]StrandTeachers `json:"top_bottom_teachers"`
	FormAverages          []FormAverage             `json:"form_averages"`
	QualifiedStudents     int                       `json:"qualified_students"`
	TotalForms            int                       `json:"total_forms"`
}

// Cohort runs every cohort-level computation.
func (idx *IndexedData) Cohort(opts Options) CohortReport {
	top, bottom := idx.Deciles(opts)
	topFliers, bottomFliers := idx.Fliers(opts)
	return CohortReport{
		TeacherPeriodAverages: idx.TeacherPeriodAverages(),
		Top10Students:         top,
		Bottom10Students:      bottom,
		TopFliers:             topFliers,
		BottomFliers:          bottomFliers,
		TopBottomTeachers:     idx.TopBottomTeachers(),
		FormAverages:          idx.FormAverages(),
		QualifiedStudents:     len(idx.qualifiedStudents(opts.withDefaults())),
		TotalForms:            idx.TotalForms,
	}
}

// TeacherPeriodAverages returns score/possible for each class section with
// possible points, in order of first appearance.
func (idx *IndexedData) TeacherPeriodAverages() []TeacherPeriodAverage {
	result := make([]TeacherPeriodAverage, 0, len(idx.teacherPeriods))
	for _, key := range idx.teacherPeriods {
		stat := idx.TeacherPeriodStat[key]
		if stat.TotalPossible <= 0 {
			continue
		}
		result = append(result, TeacherPeriodAverage{
			TeacherPeriod: key.Period + "-" + key.Teacher,
			Period:        key.Period,
			Teacher:       key.Teacher,
			AvgScore:      stat.TotalScore / stat.TotalPossible,
		})
	}
	return result
}

// SortTeacherPeriodAverages orders entries by teacher name, then numeric period.
func SortTeacherPeriodAverages(entries []TeacherPeriodAverage) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Teacher != entries[j].Teacher {
			return entries[i].Teacher < entries[j].Teacher
		}
		pi, _ := strconv.Atoi(entries[i].Period)
		pj, _ := strconv.Atoi(entries[j].Period)
		return pi < pj
	})
}

// Qualifies reports whether a student submitted enough of the known forms to
// be ranked, using the default completion threshold.
func (idx *IndexedData) Qualifies(email string) bool {
	return idx.qualifies(email, DefaultOptions())
}

func (idx *IndexedData) qualifies(email string, opts Options) bool {
	if idx.TotalForms == 0 {
		return false
	}
	history := idx.StudentHistory[email]
	return float64(len(history))/float64(idx.TotalForms) >= opts.CompletionThreshold
}

// QualifiedStudents returns the emails of completion-qualified students, sorted.
func (idx *IndexedData) QualifiedStudents(opts Options) []string {
	return idx.qualifiedStudents(opts.withDefaults())
}

func (idx *IndexedData) qualifiedStudents(opts Options) []string {
	var emails []string
	for email := range idx.StudentHistory {
		if idx.qualifies(email, opts) {
			emails = append(emails, email)
		}
	}
	sort.Strings(emails)
	return emails
}

type rankedStudent struct {
	email   string
	average float64
}

// Deciles ranks qualified students by aggregate score ratio and returns the
// top and bottom slices. The two may overlap in small cohorts.
func (idx *IndexedData) Deciles(opts Options) ([]StudentRef, []StudentRef) {
	opts = opts.withDefaults()
	var ranked []rankedStudent
	for _, email := range idx.qualifiedStudents(opts) {
		var score, possible float64
		for _, record := range idx.StudentHistory[email] {
			score += record.Score
			possible += record.PossibleScore
		}
		if possible <= 0 {
			continue
		}
		ranked = append(ranked, rankedStudent{email: email, average: score / possible})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].average != ranked[j].average {
			return ranked[i].average > ranked[j].average
		}
		return ranked[i].email < ranked[j].email
	})

	count := decileCount(len(ranked), opts.DecileFraction)
	top := make([]StudentRef, 0, count)
	bottom := make([]StudentRef, 0, count)
	for _, entry := range ranked[:count] {
		top = append(top, idx.studentRef(entry.email))
	}
	for _, entry := range ranked[len(ranked)-count:] {
		bottom = append(bottom, idx.studentRef(entry.email))
	}
	return top, bottom
}

// decileCount is ceil(n*fraction), ignoring float noise such as 30*0.1.
func decileCount(n int, fraction float64) int {
	count := int(math.Ceil(float64(n)*fraction - 1e-9))
	if count > n {
		count = n
	}
	return count
}

// Fliers returns qualified students whose recent average moved at least the
// flier threshold away from their overall average, each sorted by teacher.
func (idx *IndexedData) Fliers(opts Options) ([]StudentRef, []StudentRef) {
	opts = opts.withDefaults()
	top := []StudentRef{}
	bottom := []StudentRef{}
	for _, email := range idx.qualifiedStudents(opts) {
		change, ok := momentum(idx.StudentHistory[email], opts.FlierWindow)
		if !ok {
			continue
		}
		switch {
		case change >= opts.FlierThreshold:
			top = append(top, idx.studentRef(email))
		case change <= -opts.FlierThreshold:
			bottom = append(bottom, idx.studentRef(email))
		}
	}
	sortByTeacher(top)
	sortByTeacher(bottom)
	return top, bottom
}

// momentum returns the relative change of the last window records' mean ratio
// against the mean ratio of the whole history. It is undefined (ok=false) for
// short histories, records without possible points and a zero overall mean.
func momentum(history []ResponseRecord, window int) (float64, bool) {
	if len(history) < window {
		return 0, false
	}
	var overall, last float64
	for i, record := range history {
		if record.PossibleScore <= 0 {
			return 0, false
		}
		ratio := record.Score / record.PossibleScore
		overall += ratio
		if i >= len(history)-window {
			last += ratio
		}
	}
	overall /= float64(len(history))
	last /= float64(window)
	if overall == 0 {
		return 0, false
	}
	return (last - overall) / overall, true
}

func sortByTeacher(refs []StudentRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].Teacher != refs[j].Teacher {
			return refs[i].Teacher < refs[j].Teacher
		}
		return refs[i].Email < refs[j].Email
	})
}

func (idx *IndexedData) studentRef(email string) StudentRef {
	history := idx.StudentHistory[email]
	return StudentRef{
		Email:       email,
		StudentName: commonName(history),
		Teacher:     mostRecent(history).TeacherName,
	}
}

type teacherScore struct {
	teacher string
	average float64
}

// TopBottomTeachers returns the best and worst teacher of every strand that
// has at least one teacher with possible points.
func (idx *IndexedData) TopBottomTeachers() map[string]StrandTeachers {
	byStrand := map[string][]teacherScore{}
	for key, stat := range idx.StrandTeacherStat {
		if stat.TotalPossible <= 0 {
			continue
		}
		byStrand[key.Strand] = append(byStrand[key.Strand], teacherScore{
			teacher: key.Teacher,
			average: stat.TotalScore / stat.TotalPossible,
		})
	}

	result := make(map[string]StrandTeachers, len(byStrand))
	for _, strand := range idx.strands {
		teachers := byStrand[strand]
		if len(teachers) == 0 {
			continue
		}
		sort.Slice(teachers, func(i, j int) bool {
			if teachers[i].average != teachers[j].average {
				return teachers[i].average > teachers[j].average
			}
			return teachers[i].teacher < teachers[j].teacher
		})
		entry := StrandTeachers{BestTeacher: teachers[0].teacher}
		if len(teachers) > 1 {
			worst := teachers[len(teachers)-1].teacher
			entry.WorstTeacher = &worst
		}
		result[strand] = entry
	}
	return result
}

// FormAverages returns grade-level and per-teacher percentages for every form
// in the catalogue, ordered by form order.
func (idx *IndexedData) FormAverages() []FormAverage {
	teachersByForm := map[int][]string{}
	for key := range idx.formTeacherTotals {
		teachersByForm[key.FormOrder] = append(teachersByForm[key.FormOrder], key.Teacher)
	}

	orders := idx.FormOrders()
	result := make([]FormAverage, 0, len(orders))
	for _, order := range orders {
		form := idx.Forms[order]
		teachers := teachersByForm[order]
		sort.Strings(teachers)
		averages := make([]TeacherAverage, 0, len(teachers))
		for _, teacher := range teachers {
			averages = append(averages, TeacherAverage{
				Teacher: teacher,
				Average: idx.formTeacherTotals[formTeacherKey{FormOrder: order, Teacher: teacher}].percent(),
			})
		}
		result = append(result, FormAverage{
			FormOrder:         order,
			FormTitle:         form.Title,
			FormStrand:        form.Strand,
			GradeLevelAverage: idx.formTotals[order].percent(),
			TeacherAverages:   averages,
		})
	}
	return result
}
