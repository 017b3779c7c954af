package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"exit-ticket-audit/internal/analytics"
)

type Report struct {
	AsOf     string                    `json:"as_of"`
	Ingest   IngestStats               `json:"ingest"`
	Options  analytics.Options         `json:"options"`
	Cohort   analytics.CohortReport    `json:"cohort"`
	Students []analytics.StudentReport `json:"students"`
}

func printReport(w io.Writer, report Report, inputPath string) {
	cohort := report.Cohort
	fmt.Fprintln(w, "Exit Ticket Audit")
	fmt.Fprintln(w, strings.Repeat("=", 38))
	fmt.Fprintf(w, "Input: %s\n", filepath.Base(inputPath))
	fmt.Fprintf(w, "As of: %s\n", report.AsOf)
	fmt.Fprintf(w, "Forms: %d | Students: %d | Qualified: %d\n", cohort.TotalForms, len(report.Students), cohort.QualifiedStudents)
	fmt.Fprintf(w, "Rows: %d", report.Ingest.Rows)
	if report.Ingest.InvalidRows > 0 {
		fmt.Fprintf(w, " | invalid skipped: %d", report.Ingest.InvalidRows)
	}
	if report.Ingest.DuplicateRows > 0 {
		fmt.Fprintf(w, " | duplicates replaced: %d", report.Ingest.DuplicateRows)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "\nTeacher/period averages")
	fmt.Fprintln(w, strings.Repeat("-", 38))
	averages := append([]analytics.TeacherPeriodAverage(nil), cohort.TeacherPeriodAverages...)
	analytics.SortTeacherPeriodAverages(averages)
	if len(averages) == 0 {
		fmt.Fprintln(w, "No class periods found.")
	}
	for _, entry := range averages {
		fmt.Fprintf(w, "%s: %s%%\n", entry.TeacherPeriod, formatPercent(entry.AvgScore*100))
	}

	printStudents(w, "Top 10%", cohort.Top10Students)
	printStudents(w, "Bottom 10%", cohort.Bottom10Students)
	printStudents(w, "Top fliers", cohort.TopFliers)
	printStudents(w, "Bottom fliers", cohort.BottomFliers)

	if len(cohort.TopBottomTeachers) > 0 {
		fmt.Fprintln(w, "\nStrand leaders")
		fmt.Fprintln(w, strings.Repeat("-", 38))
		for _, strand := range sortedStrands(cohort.TopBottomTeachers) {
			entry := cohort.TopBottomTeachers[strand]
			worst := "n/a"
			if entry.WorstTeacher != nil {
				worst = *entry.WorstTeacher
			}
			fmt.Fprintf(w, "%s | best %s | worst %s\n", strand, entry.BestTeacher, worst)
		}
	}
}

func printStudents(w io.Writer, title string, students []analytics.StudentRef) {
	fmt.Fprintf(w, "\n%s\n", title)
	fmt.Fprintln(w, strings.Repeat("-", 38))
	if len(students) == 0 {
		fmt.Fprintln(w, "None.")
		return
	}
	for _, student := range students {
		fmt.Fprintln(w, studentLine(student))
	}
}

func studentLine(student analytics.StudentRef) string {
	return fmt.Sprintf("%s --- %s --- %s", strings.TrimSpace(student.StudentName), student.Email, student.Teacher)
}

func sortedStrands(entries map[string]analytics.StrandTeachers) []string {
	strands := make([]string, 0, len(entries))
	for strand := range entries {
		strands = append(strands, strand)
	}
	sort.Strings(strands)
	return strands
}

func writeJSON(report Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// buildSheetGrid lays the cohort report out like the Reports sheet: A-B class
// averages, D-G student lists and I-K strand leaders, data from row 3.
func buildSheetGrid(cohort analytics.CohortReport) [][]string {
	averages := append([]analytics.TeacherPeriodAverage(nil), cohort.TeacherPeriodAverages...)
	analytics.SortTeacherPeriodAverages(averages)
	strands := sortedStrands(cohort.TopBottomTeachers)
	lists := [][]analytics.StudentRef{
		cohort.Bottom10Students,
		cohort.Top10Students,
		cohort.BottomFliers,
		cohort.TopFliers,
	}

	rows := len(averages)
	if len(strands) > rows {
		rows = len(strands)
	}
	for _, list := range lists {
		if len(list) > rows {
			rows = len(list)
		}
	}

	grid := [][]string{
		{"Exit Ticket Reports"},
		{"Teacher/Period", "Average", "", "Bottom 10%", "Top 10%", "Bottom Fliers", "Top Fliers", "", "Strand", "Best Teacher", "Worst Teacher"},
	}
	for i := 0; i < rows; i++ {
		row := make([]string, 11)
		if i < len(averages) {
			row[0] = averages[i].TeacherPeriod
			row[1] = formatPercent(averages[i].AvgScore * 100)
		}
		for col, list := range lists {
			if i < len(list) {
				row[3+col] = studentLine(list[i])
			}
		}
		if i < len(strands) {
			entry := cohort.TopBottomTeachers[strands[i]]
			row[8] = strands[i]
			row[9] = entry.BestTeacher
			if entry.WorstTeacher != nil {
				row[10] = *entry.WorstTeacher
			}
		}
		grid = append(grid, row)
	}
	return grid
}

func writeSheetCSV(report Report, path string) error {
	return writeCSV(path, buildSheetGrid(report.Cohort))
}

func writeStudentsCSV(report Report, path string) error {
	rows := [][]string{{
		"email",
		"display_name",
		"teacher",
		"period",
		"average",
		"class_average",
		"completed",
		"missing",
	}}
	for _, student := range report.Students {
		rows = append(rows, []string{
			student.Email,
			student.DisplayName,
			student.Teacher,
			student.Period,
			fmt.Sprintf("%.2f", student.Average),
			fmt.Sprintf("%.2f", student.ClassAverage),
			strconv.Itoa(len(student.Completed)),
			strconv.Itoa(len(student.Missing)),
		})
	}
	return writeCSV(path, rows)
}

// buildFormsGrid lists each form's grade-level average followed by one row
// per teacher, each with its score band.
func buildFormsGrid(forms []analytics.FormAverage) [][]string {
	rows := [][]string{{"exit_ticket", "strand", "title", "teacher", "average", "band"}}
	for _, form := range forms {
		number := strconv.Itoa(form.FormOrder + 1)
		band := analytics.PercentBand(form.GradeLevelAverage)
		rows = append(rows, []string{number, form.FormStrand, form.FormTitle, "Grade Level", fmt.Sprintf("%.2f", form.GradeLevelAverage), string(band)})
		for _, entry := range form.TeacherAverages {
			band = analytics.PercentBand(entry.Average)
			rows = append(rows, []string{number, form.FormStrand, form.FormTitle, entry.Teacher, fmt.Sprintf("%.2f", entry.Average), string(band)})
		}
	}
	return rows
}

func writeFormsCSV(report Report, path string) error {
	return writeCSV(path, buildFormsGrid(report.Cohort.FormAverages))
}

func writeCSV(path string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return writer.Error()
}

// formatPercent renders a percentage to one decimal without trailing zeros.
func formatPercent(value float64) string {
	return strconv.FormatFloat(round1(value), 'f', -1, 64)
}

func round1(value float64) float64 {
	return math.Round(value*10) / 10
}
