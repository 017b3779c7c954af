package analytics

import "sort"

// TeacherPeriodKey identifies one class section. Period is never empty.
type TeacherPeriodKey struct {
	Period  string
	Teacher string
}

// TeacherPeriodStat accumulates points for one class section.
type TeacherPeriodStat struct {
	TotalScore    float64
	TotalPossible float64
}

// StrandTeacherKey identifies one teacher's work within a strand.
type StrandTeacherKey struct {
	Strand  string
	Teacher string
}

// StrandTeacherStat accumulates points for one teacher within a strand.
type StrandTeacherStat struct {
	TotalScore    float64
	TotalPossible float64
	Count         int
}

type formTeacherKey struct {
	FormOrder int
	Teacher   string
}

type totals struct {
	score    float64
	possible float64
}

func (t totals) percent() float64 {
	if t.possible > 0 {
		return t.score / t.possible * 100
	}
	return 0
}

// IndexedData holds every lookup structure derived from one run's records.
// It is built once by Index or IndexBatches and only read afterwards.
type IndexedData struct {
	StudentHistory    map[string][]ResponseRecord
	TeacherPeriodStat map[TeacherPeriodKey]TeacherPeriodStat
	StrandTeacherStat map[StrandTeacherKey]StrandTeacherStat
	TotalForms        int
	Forms             map[int]Form

	students          []string
	teacherPeriods    []TeacherPeriodKey
	strands           []string
	formTotals        map[int]totals
	formTeacherTotals map[formTeacherKey]totals
}

// Index builds the derived structures for a run in a single pass.
func Index(records []ResponseRecord) *IndexedData {
	return build(nil, records)
}

// IndexBatches normalizes each batch's responses, stamps them with the
// batch's form identity and indexes the result. Every batch is registered in
// the form catalogue even when it has no responses.
func IndexBatches(batches []Batch) *IndexedData {
	forms := make([]Form, 0, len(batches))
	var records []ResponseRecord
	for _, batch := range batches {
		forms = append(forms, Form{Order: batch.FormOrder, Title: batch.FormTitle, Strand: batch.Strand})
		for _, raw := range batch.Responses {
			record := Normalize(raw)
			record.FormTitle = batch.FormTitle
			record.FormOrder = batch.FormOrder
			record.Strand = batch.Strand
			records = append(records, record)
		}
	}
	return build(forms, records)
}

func build(forms []Form, records []ResponseRecord) *IndexedData {
	idx := &IndexedData{
		StudentHistory:    map[string][]ResponseRecord{},
		TeacherPeriodStat: map[TeacherPeriodKey]TeacherPeriodStat{},
		StrandTeacherStat: map[StrandTeacherKey]StrandTeacherStat{},
		Forms:             map[int]Form{},
		formTotals:        map[int]totals{},
		formTeacherTotals: map[formTeacherKey]totals{},
	}
	for _, form := range forms {
		idx.register(form)
	}

	seenStrands := map[string]bool{}
	for _, record := range records {
		idx.register(Form{Order: record.FormOrder, Title: record.FormTitle, Strand: record.Strand})
		if record.FormOrder+1 > idx.TotalForms {
			idx.TotalForms = record.FormOrder + 1
		}

		if _, ok := idx.StudentHistory[record.Email]; !ok {
			idx.students = append(idx.students, record.Email)
		}
		idx.StudentHistory[record.Email] = append(idx.StudentHistory[record.Email], record)

		strandKey := StrandTeacherKey{Strand: record.Strand, Teacher: record.TeacherName}
		strandStat := idx.StrandTeacherStat[strandKey]
		strandStat.TotalScore += record.Score
		strandStat.TotalPossible += record.PossibleScore
		strandStat.Count++
		idx.StrandTeacherStat[strandKey] = strandStat
		if !seenStrands[record.Strand] {
			seenStrands[record.Strand] = true
			idx.strands = append(idx.strands, record.Strand)
		}

		if record.Period != "" {
			key := TeacherPeriodKey{Period: record.Period, Teacher: record.TeacherName}
			stat, ok := idx.TeacherPeriodStat[key]
			if !ok {
				idx.teacherPeriods = append(idx.teacherPeriods, key)
			}
			stat.TotalScore += record.Score
			stat.TotalPossible += record.PossibleScore
			idx.TeacherPeriodStat[key] = stat
		}

		form := idx.formTotals[record.FormOrder]
		form.score += record.Score
		form.possible += record.PossibleScore
		idx.formTotals[record.FormOrder] = form

		classKey := formTeacherKey{FormOrder: record.FormOrder, Teacher: record.TeacherName}
		class := idx.formTeacherTotals[classKey]
		class.score += record.Score
		class.possible += record.PossibleScore
		idx.formTeacherTotals[classKey] = class
	}

	for email, history := range idx.StudentHistory {
		sort.SliceStable(history, func(i, j int) bool {
			return history[i].FormOrder < history[j].FormOrder
		})
		idx.StudentHistory[email] = history
	}
	return idx
}

func (idx *IndexedData) register(form Form) {
	if _, ok := idx.Forms[form.Order]; ok {
		return
	}
	idx.Forms[form.Order] = form
}

// FormOrders returns the catalogue's form orders in ascending order.
func (idx *IndexedData) FormOrders() []int {
	orders := make([]int, 0, len(idx.Forms))
	for order := range idx.Forms {
		orders = append(orders, order)
	}
	sort.Ints(orders)
	return orders
}

// Students returns every student email in order of first appearance.
func (idx *IndexedData) Students() []string {
	return append([]string(nil), idx.students...)
}

// mostRecent returns the record with the highest form order.
func mostRecent(history []ResponseRecord) ResponseRecord {
	latest := history[0]
	for _, record := range history[1:] {
		if record.FormOrder > latest.FormOrder {
			latest = record
		}
	}
	return latest
}

// mostCommon returns the most frequent value; ties go to the value seen first.
func mostCommon(values []string) string {
	counts := map[string]int{}
	best, bestCount := "", 0
	for _, value := range values {
		counts[value]++
	}
	for _, value := range values {
		if counts[value] > bestCount {
			best, bestCount = value, counts[value]
		}
	}
	return best
}
