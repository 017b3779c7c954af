package analytics

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(email, teacher, period, strand string, order int, score, possible float64) ResponseRecord {
	return ResponseRecord{
		Email:         email,
		StudentName:   "Student " + LocalPart(email),
		TeacherName:   teacher,
		Period:        period,
		Strand:        strand,
		FormTitle:     fmt.Sprintf("Ticket %d", order+1),
		FormOrder:     order,
		Score:         score,
		PossibleScore: possible,
	}
}

// ratios builds one record per ratio on a ten point form.
func ratios(email, teacher string, values ...float64) []ResponseRecord {
	records := make([]ResponseRecord, 0, len(values))
	for i, value := range values {
		records = append(records, rec(email, teacher, "1", "Algebra", i, value*10, 10))
	}
	return records
}

func TestValidPeriod(t *testing.T) {
	assert.Equal(t, "2", ValidPeriod("2"))
	assert.Equal(t, "012", ValidPeriod("012"))
	assert.Equal(t, "", ValidPeriod(""))
	assert.Equal(t, "", ValidPeriod("2nd"))
	assert.Equal(t, "", ValidPeriod(" 2"))
	assert.Equal(t, "", ValidPeriod("-1"))
	assert.Equal(t, "", ValidPeriod("٣"))
}

func TestNormalize(t *testing.T) {
	record := Normalize(RawResponse{
		Email:         "  Ana.Lopez@School.org ",
		StudentName:   " Ana Lopez ",
		TeacherName:   "Smith ",
		Period:        "Period 3",
		Score:         7,
		PossibleScore: 9,
	})
	assert.Equal(t, "ana.lopez@school.org", record.Email)
	assert.Equal(t, "Ana Lopez", record.StudentName)
	assert.Equal(t, "Smith", record.TeacherName)
	assert.Equal(t, "", record.Period)
	assert.Equal(t, 7.0, record.Score)
	assert.Equal(t, 9.0, record.PossibleScore)
	assert.Equal(t, "ana.lopez", LocalPart(record.Email))
}

func TestIndexTotalFormsAndHistoryOrder(t *testing.T) {
	assert.Equal(t, 0, Index(nil).TotalForms)

	idx := Index([]ResponseRecord{
		rec("a@x.com", "Smith", "2", "Algebra", 3, 1, 2),
		rec("a@x.com", "Smith", "2", "Algebra", 0, 2, 2),
		rec("b@x.com", "Jones", "4", "Geometry", 1, 0, 2),
	})
	assert.Equal(t, 4, idx.TotalForms)
	require.Len(t, idx.StudentHistory["a@x.com"], 2)
	assert.Equal(t, 0, idx.StudentHistory["a@x.com"][0].FormOrder)
	assert.Equal(t, 3, idx.StudentHistory["a@x.com"][1].FormOrder)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, idx.Students())
	assert.Equal(t, []int{0, 1, 3}, idx.FormOrders())
}

func TestSingleStudentScenario(t *testing.T) {
	idx := Index([]ResponseRecord{
		rec("a@x.com", "Smith", "2", "Algebra", 0, 8, 10),
		rec("a@x.com", "Smith", "2", "Algebra", 1, 4, 10),
	})
	report := idx.Cohort(DefaultOptions())

	require.Len(t, report.TeacherPeriodAverages, 1)
	assert.Equal(t, "2-Smith", report.TeacherPeriodAverages[0].TeacherPeriod)
	assert.InDelta(t, 0.6, report.TeacherPeriodAverages[0].AvgScore, 1e-9)

	assert.Empty(t, report.TopFliers)
	assert.Empty(t, report.BottomFliers)

	want := []StudentRef{{Email: "a@x.com", StudentName: "Student a", Teacher: "Smith"}}
	assert.Equal(t, want, report.Top10Students)
	assert.Equal(t, want, report.Bottom10Students)
	assert.Equal(t, 1, report.QualifiedStudents)
}

func TestTeacherPeriodAveragesSkipInvalidPeriodAndZeroPossible(t *testing.T) {
	idx := Index([]ResponseRecord{
		rec("a@x.com", "Smith", "", "Algebra", 0, 5, 10),
		rec("b@x.com", "Smith", "3", "Algebra", 0, 9, 10),
		rec("c@x.com", "Jones", "4", "Algebra", 0, 0, 0),
	})

	averages := idx.TeacherPeriodAverages()
	require.Len(t, averages, 1)
	assert.Equal(t, "3-Smith", averages[0].TeacherPeriod)
	assert.InDelta(t, 0.9, averages[0].AvgScore, 1e-9)

	strand := idx.StrandTeacherStat[StrandTeacherKey{Strand: "Algebra", Teacher: "Smith"}]
	assert.Equal(t, 14.0, strand.TotalScore)
	assert.Equal(t, 20.0, strand.TotalPossible)
	assert.Equal(t, 2, strand.Count)

	for _, entry := range averages {
		assert.GreaterOrEqual(t, entry.AvgScore, 0.0)
		assert.LessOrEqual(t, entry.AvgScore, 1.0)
	}
}

func TestSortTeacherPeriodAverages(t *testing.T) {
	entries := []TeacherPeriodAverage{
		{TeacherPeriod: "10-Smith", Period: "10", Teacher: "Smith"},
		{TeacherPeriod: "2-Smith", Period: "2", Teacher: "Smith"},
		{TeacherPeriod: "7-Al-Amin", Period: "7", Teacher: "Al-Amin"},
	}
	SortTeacherPeriodAverages(entries)
	assert.Equal(t, "7-Al-Amin", entries[0].TeacherPeriod)
	assert.Equal(t, "2-Smith", entries[1].TeacherPeriod)
	assert.Equal(t, "10-Smith", entries[2].TeacherPeriod)
}

func TestCompletionThreshold(t *testing.T) {
	var records []ResponseRecord
	for order := 0; order < 4; order++ {
		records = append(records, rec("full@x.com", "Smith", "1", "Algebra", order, 5, 10))
	}
	records = append(records,
		rec("half@x.com", "Smith", "1", "Algebra", 0, 10, 10),
		rec("half@x.com", "Smith", "1", "Algebra", 2, 10, 10),
		rec("once@x.com", "Smith", "1", "Algebra", 1, 10, 10),
	)
	idx := Index(records)

	assert.True(t, idx.Qualifies("full@x.com"))
	assert.True(t, idx.Qualifies("half@x.com"))
	assert.False(t, idx.Qualifies("once@x.com"))
	assert.False(t, idx.Qualifies("nobody@x.com"))
	assert.Equal(t, []string{"full@x.com", "half@x.com"}, idx.QualifiedStudents(Options{}))

	top, bottom := idx.Deciles(DefaultOptions())
	require.Len(t, top, 1)
	require.Len(t, bottom, 1)
	assert.Equal(t, "half@x.com", top[0].Email)
	assert.Equal(t, "full@x.com", bottom[0].Email)
}

func decileCohort(n int) []ResponseRecord {
	records := make([]ResponseRecord, 0, n)
	for i := 1; i <= n; i++ {
		records = append(records, rec(fmt.Sprintf("s%02d@x.com", i), "Smith", "1", "Algebra", 0, float64(i), float64(n)))
	}
	return records
}

func TestDecilesSizeAndOrder(t *testing.T) {
	top, bottom := Index(decileCohort(20)).Deciles(DefaultOptions())
	require.Len(t, top, 2)
	require.Len(t, bottom, 2)
	assert.Equal(t, "s20@x.com", top[0].Email)
	assert.Equal(t, "s19@x.com", top[1].Email)
	assert.Equal(t, "s02@x.com", bottom[0].Email)
	assert.Equal(t, "s01@x.com", bottom[1].Email)

	for _, n := range []int{1, 3, 9, 10, 11, 30} {
		top, bottom := Index(decileCohort(n)).Deciles(DefaultOptions())
		want := (n + 9) / 10
		assert.Len(t, top, want, "n=%d", n)
		assert.Len(t, bottom, want, "n=%d", n)
	}

	top, bottom = Index(nil).Deciles(DefaultOptions())
	assert.Empty(t, top)
	assert.Empty(t, bottom)
}

func TestDecilesStableUnderPermutation(t *testing.T) {
	records := decileCohort(25)
	// two students tied on the best ratio
	records = append(records, rec("aa@x.com", "Jones", "2", "Algebra", 0, 25, 25))
	wantTop, wantBottom := Index(records).Deciles(DefaultOptions())
	require.Equal(t, "aa@x.com", wantTop[0].Email)
	require.Equal(t, "s25@x.com", wantTop[1].Email)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5; i++ {
		shuffled := append([]ResponseRecord(nil), records...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		top, bottom := Index(shuffled).Deciles(DefaultOptions())
		assert.Equal(t, wantTop, top)
		assert.Equal(t, wantBottom, bottom)
	}
}

func TestDecilesSkipZeroPossibleAndUseLatestTeacher(t *testing.T) {
	idx := Index([]ResponseRecord{
		rec("a@x.com", "Smith", "1", "Algebra", 0, 9, 10),
		rec("a@x.com", "Jones", "5", "Algebra", 1, 9, 10),
		rec("z@x.com", "Smith", "1", "Algebra", 0, 0, 0),
		rec("z@x.com", "Smith", "1", "Algebra", 1, 0, 0),
	})
	top, bottom := idx.Deciles(DefaultOptions())
	require.Len(t, top, 1)
	assert.Equal(t, "a@x.com", top[0].Email)
	assert.Equal(t, "Jones", top[0].Teacher)
	assert.Equal(t, top, bottom)
}

func TestFliers(t *testing.T) {
	var records []ResponseRecord
	records = append(records, ratios("up@x.com", "Smith", 0.2, 0.2, 0.2, 0.8, 0.8, 0.8)...)
	records = append(records, ratios("down@x.com", "Adams", 0.9, 0.9, 0.9, 0.3, 0.3, 0.3)...)
	records = append(records, ratios("flat@x.com", "Smith", 0.5, 0.5, 0.5, 0.9)...)
	records = append(records, ratios("zero@x.com", "Smith", 0, 0, 0, 0)...)
	records = append(records, ratios("early@x.com", "Adams", 0.1, 0.1, 0.9)...)
	idx := Index(records)

	top, bottom := idx.Fliers(DefaultOptions())
	require.Len(t, top, 1)
	assert.Equal(t, "up@x.com", top[0].Email)
	require.Len(t, bottom, 1)
	assert.Equal(t, "down@x.com", bottom[0].Email)

	change, ok := momentum(idx.StudentHistory["flat@x.com"], 3)
	require.True(t, ok)
	assert.InDelta(t, 0.0556, change, 1e-3)

	// overall average of zero leaves the change undefined
	_, ok = momentum(idx.StudentHistory["zero@x.com"], 3)
	assert.False(t, ok)

	// with exactly three records the window is the whole history
	change, ok = momentum(idx.StudentHistory["early@x.com"], 3)
	require.True(t, ok)
	assert.Zero(t, change)

	again, _ := idx.Fliers(DefaultOptions())
	assert.Equal(t, top, again)
}

func TestFliersNeedThreeRecordsAndCompletion(t *testing.T) {
	var records []ResponseRecord
	records = append(records, ratios("two@x.com", "Smith", 0.1, 0.9)...)
	idx := Index(records)
	assert.True(t, idx.Qualifies("two@x.com"))
	top, bottom := idx.Fliers(DefaultOptions())
	assert.Empty(t, top)
	assert.Empty(t, bottom)

	// a rising history that falls under the completion threshold
	records = append(records, ratios("pad@x.com", "Smith", 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5)...)
	records = append(records, ratios("late@x.com", "Smith", 0.1, 0.1, 0.9)...)
	idx = Index(records)
	assert.False(t, idx.Qualifies("late@x.com"))
	top, _ = idx.Fliers(DefaultOptions())
	assert.Empty(t, top)
}

func TestFliersSortedByTeacher(t *testing.T) {
	var records []ResponseRecord
	records = append(records, ratios("b@x.com", "Young", 0.2, 0.2, 0.2, 0.8, 0.8, 0.8)...)
	records = append(records, ratios("a@x.com", "Adams", 0.2, 0.2, 0.2, 0.8, 0.8, 0.8)...)
	records = append(records, ratios("c@x.com", "Adams", 0.2, 0.2, 0.2, 0.8, 0.8, 0.8)...)
	top, _ := Index(records).Fliers(DefaultOptions())
	require.Len(t, top, 3)
	assert.Equal(t, "a@x.com", top[0].Email)
	assert.Equal(t, "c@x.com", top[1].Email)
	assert.Equal(t, "b@x.com", top[2].Email)
}

func TestTopBottomTeachers(t *testing.T) {
	idx := Index([]ResponseRecord{
		rec("a@x.com", "A", "1", "Algebra", 0, 9, 10),
		rec("b@x.com", "B", "2", "Algebra", 0, 5, 10),
		rec("c@x.com", "C", "3", "Geometry", 0, 3, 10),
		rec("d@x.com", "D", "4", "Statistics", 0, 0, 0),
	})
	result := idx.TopBottomTeachers()

	require.Contains(t, result, "Algebra")
	assert.Equal(t, "A", result["Algebra"].BestTeacher)
	require.NotNil(t, result["Algebra"].WorstTeacher)
	assert.Equal(t, "B", *result["Algebra"].WorstTeacher)

	require.Contains(t, result, "Geometry")
	assert.Equal(t, "C", result["Geometry"].BestTeacher)
	assert.Nil(t, result["Geometry"].WorstTeacher)

	assert.NotContains(t, result, "Statistics")
}

func TestStudentReports(t *testing.T) {
	idx := IndexBatches([]Batch{
		{FormTitle: "Slopes", FormOrder: 0, Strand: "Algebra", Responses: []RawResponse{
			{Email: "a@x.com", StudentName: "Ana", TeacherName: "Smith", Period: "2", Score: 8, PossibleScore: 10},
			{Email: "b@x.com", StudentName: "Ben", TeacherName: "Smith", Period: "2", Score: 4, PossibleScore: 10},
			{Email: "c@x.com", StudentName: "Cy", TeacherName: "Jones", Period: "5", Score: 6, PossibleScore: 10},
		}},
		{FormTitle: "Angles", FormOrder: 1, Strand: "Geometry", Responses: []RawResponse{
			{Email: "a@x.com", StudentName: "Ana L", TeacherName: "Jones", Period: "5", Score: 0, PossibleScore: 0},
		}},
		{FormTitle: "Ratios", FormOrder: 2, Strand: "Algebra", Responses: []RawResponse{
			{Email: "A@x.com", StudentName: "Ana", TeacherName: "Jones", Period: "5", Score: 3, PossibleScore: 4},
		}},
		{FormTitle: "Unreleased", FormOrder: 3, Strand: "Algebra"},
	})
	reports := BuildReports(idx)
	require.Len(t, reports, 3)

	ana := reports[0]
	assert.Equal(t, "a@x.com", ana.Email)
	assert.Equal(t, "Ana", ana.DisplayName)
	require.Len(t, ana.Completed, 3)

	slopes := ana.Completed[0]
	assert.Equal(t, "Slopes", slopes.FormTitle)
	assert.Equal(t, "Algebra", slopes.FormStrand)
	assert.InDelta(t, 80, slopes.StudentAvg, 1e-9)
	assert.InDelta(t, 60, slopes.ClassAvg, 1e-9)
	assert.InDelta(t, 60, slopes.GradeLevelAvg, 1e-9)

	angles := ana.Completed[1]
	assert.Zero(t, angles.StudentAvg)
	assert.Zero(t, angles.ClassAvg)
	assert.Zero(t, angles.GradeLevelAvg)

	require.Len(t, ana.Missing, 1)
	assert.Equal(t, MissingForm{FormOrder: 3, FormTitle: "Unreleased", FormStrand: "Algebra"}, ana.Missing[0])

	assert.InDelta(t, 11.0/14*100, ana.Average, 1e-9)
	assert.Equal(t, "5", ana.Period)
	assert.Equal(t, "Jones", ana.Teacher)
	assert.InDelta(t, 9.0/14*100, ana.ClassAverage, 1e-9)

	ben := reports[1]
	assert.Equal(t, "2", ben.Period)
	assert.Equal(t, "Smith", ben.Teacher)
	assert.InDelta(t, 40, ben.Average, 1e-9)
	assert.InDelta(t, 60, ben.ClassAverage, 1e-9)
	require.Len(t, ben.Missing, 3)
	assert.Equal(t, 1, ben.Missing[0].FormOrder)

	assert.Equal(t, 3, idx.TotalForms)
}

func TestHomeSectionTieGoesToFirstSeen(t *testing.T) {
	history := []ResponseRecord{
		rec("a@x.com", "Zed", "7", "Algebra", 0, 1, 1),
		rec("a@x.com", "Adams", "1", "Algebra", 1, 1, 1),
	}
	assert.Equal(t, TeacherPeriodKey{Period: "7", Teacher: "Zed"}, homeSection(history))
	assert.Equal(t, "Ana", mostCommon([]string{"Ana", "Ana L", "Ana L", "Ana"}))
}

func TestStudentReportWithoutValidPeriod(t *testing.T) {
	idx := Index([]ResponseRecord{rec("a@x.com", "Smith", "", "Algebra", 0, 3, 4)})
	reports := idx.StudentReports()
	require.Len(t, reports, 1)
	assert.Equal(t, "", reports[0].Period)
	assert.Equal(t, "Smith", reports[0].Teacher)
	assert.Zero(t, reports[0].ClassAverage)
	assert.Empty(t, reports[0].Missing)
	assert.NotNil(t, reports[0].Missing)
}

func TestFormAverages(t *testing.T) {
	idx := Index([]ResponseRecord{
		rec("a@x.com", "Smith", "1", "Algebra", 0, 8, 10),
		rec("b@x.com", "Adams", "2", "Algebra", 0, 5, 10),
		rec("c@x.com", "Adams", "2", "Algebra", 0, 3, 10),
		rec("a@x.com", "Smith", "1", "Geometry", 1, 0, 0),
	})
	forms := idx.FormAverages()
	require.Len(t, forms, 2)

	assert.InDelta(t, 16.0/30*100, forms[0].GradeLevelAverage, 1e-9)
	require.Len(t, forms[0].TeacherAverages, 2)
	assert.Equal(t, "Adams", forms[0].TeacherAverages[0].Teacher)
	assert.InDelta(t, 40, forms[0].TeacherAverages[0].Average, 1e-9)
	assert.Equal(t, "Smith", forms[0].TeacherAverages[1].Teacher)

	assert.Equal(t, "Geometry", forms[1].FormStrand)
	assert.Zero(t, forms[1].GradeLevelAverage)
}

func TestScoreBand(t *testing.T) {
	assert.Equal(t, BandBeginning, ScoreBand(0, 0))
	assert.Equal(t, BandAdvanced, ScoreBand(10, 10))
	assert.Equal(t, BandProficient, ScoreBand(9, 10))
	assert.Equal(t, BandDeveloping, ScoreBand(5, 10))
	assert.Equal(t, BandBeginning, ScoreBand(4, 10))
	assert.Equal(t, "#C9DAF8", BandAdvanced.Color())
	assert.Equal(t, "#F4CCCC", BandBeginning.Color())
}

func TestOptionsDefaults(t *testing.T) {
	assert.Equal(t, DefaultOptions(), Options{}.withDefaults())
	custom := Options{FlierWindow: 4}.withDefaults()
	assert.Equal(t, 4, custom.FlierWindow)
	assert.Equal(t, DefaultCompletionThreshold, custom.CompletionThreshold)
}

func TestAnalyze(t *testing.T) {
	result := Analyze([]Batch{
		{FormTitle: "Slopes", FormOrder: 0, Strand: "Algebra", Responses: []RawResponse{
			{Email: "a@x.com", StudentName: "Ana", TeacherName: "Smith", Period: "2", Score: 8, PossibleScore: 10},
		}},
	}, Options{})
	assert.Equal(t, 1, result.Cohort.TotalForms)
	require.Len(t, result.Students, 1)
	assert.Equal(t, "Ana", result.Students[0].DisplayName)
	assert.Equal(t, "Smith", result.Cohort.TopBottomTeachers["Algebra"].BestTeacher)
}
