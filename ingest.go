package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"exit-ticket-audit/internal/analytics"
)

var (
	ErrMissingEmailColumn   = errors.New("ingest: missing email column")
	ErrMissingTeacherColumn = errors.New("ingest: missing teacher column")
	ErrMissingFormColumn    = errors.New("ingest: missing form_order or form_title column")
	ErrMissingScoreColumns  = errors.New("ingest: missing score columns and no item columns")
	ErrEmptyManifest        = errors.New("ingest: manifest lists no forms")
)

var itemHeader = regexp.MustCompile(`^(item.*|q[0-9]+)$`)

var (
	emailColumns    = []string{"email", "email_address", "respondent_email", "student_email"}
	teacherColumns  = []string{"teacher", "teacher_name"}
	studentColumns  = []string{"student", "student_name", "name"}
	periodColumns   = []string{"period", "class_period"}
	scoreColumns    = []string{"score", "points"}
	possibleColumns = []string{"possible_score", "possible", "max_score", "total_points"}
	orderColumns    = []string{"form_order", "order", "ticket"}
	titleColumns    = []string{"form_title", "title", "form"}
	strandColumns   = []string{"strand", "category", "subject"}
)

type IngestStats struct {
	Rows          int `json:"rows"`
	InvalidRows   int `json:"invalid_rows"`
	DuplicateRows int `json:"duplicate_rows"`
}

// Manifest mirrors the setup sheet: strands in order, each with its form
// response files in order. Form orders are assigned sequentially.
type Manifest struct {
	Strands []ManifestStrand `yaml:"strands"`
}

type ManifestStrand struct {
	Name  string         `yaml:"name"`
	Forms []ManifestForm `yaml:"forms"`
}

type ManifestForm struct {
	File  string `yaml:"file"`
	Title string `yaml:"title"`
}

type responseKey struct {
	email string
	order int
}

// batchSet collects responses per form. A later submission for the same
// student and form replaces the earlier one.
type batchSet struct {
	batches map[int]*analytics.Batch
	seen    map[responseKey]int
	stats   IngestStats
}

func newBatchSet() *batchSet {
	return &batchSet{
		batches: map[int]*analytics.Batch{},
		seen:    map[responseKey]int{},
	}
}

func (s *batchSet) form(order int, title, strand string) *analytics.Batch {
	batch, ok := s.batches[order]
	if !ok {
		batch = &analytics.Batch{FormOrder: order, FormTitle: title, Strand: strand}
		s.batches[order] = batch
	}
	return batch
}

func (s *batchSet) add(batch *analytics.Batch, response analytics.RawResponse) {
	key := responseKey{email: analytics.NormalizeEmail(response.Email), order: batch.FormOrder}
	if pos, ok := s.seen[key]; ok {
		batch.Responses[pos] = response
		s.stats.DuplicateRows++
		return
	}
	s.seen[key] = len(batch.Responses)
	batch.Responses = append(batch.Responses, response)
}

func (s *batchSet) result() []analytics.Batch {
	orders := make([]int, 0, len(s.batches))
	for order := range s.batches {
		orders = append(orders, order)
	}
	sort.Ints(orders)
	result := make([]analytics.Batch, 0, len(orders))
	for _, order := range orders {
		result = append(result, *s.batches[order])
	}
	return result
}

// responseColumns locates the per-response fields of a header row.
type responseColumns struct {
	email, teacher, student, period int
	score, possible                 int
	items                           []int
}

func findResponseColumns(headers []string) (responseColumns, error) {
	colMap := normalizeHeaders(headers)
	var cols responseColumns
	var ok bool
	if cols.email, ok = findColumn(colMap, emailColumns); !ok {
		return cols, ErrMissingEmailColumn
	}
	if cols.teacher, ok = findColumn(colMap, teacherColumns); !ok {
		return cols, ErrMissingTeacherColumn
	}
	cols.student, _ = findColumn(colMap, studentColumns)
	cols.period, _ = findColumn(colMap, periodColumns)
	cols.score, _ = findColumn(colMap, scoreColumns)
	cols.possible, _ = findColumn(colMap, possibleColumns)
	if cols.score < 0 || cols.possible < 0 {
		cols.score, cols.possible = -1, -1
		for idx, header := range headers {
			if itemHeader.MatchString(normalizeHeader(header)) {
				cols.items = append(cols.items, idx)
			}
		}
		if len(cols.items) == 0 {
			return cols, ErrMissingScoreColumns
		}
	}
	return cols, nil
}

// parse turns one row into a raw response. Rows without an email or with an
// unusable score are rejected.
func (c responseColumns) parse(record []string) (analytics.RawResponse, bool) {
	response := analytics.RawResponse{
		Email:       getValue(record, c.email),
		TeacherName: getValue(record, c.teacher),
		StudentName: getValue(record, c.student),
		Period:      getValue(record, c.period),
	}
	if response.Email == "" {
		return response, false
	}

	if len(c.items) > 0 {
		for _, idx := range c.items {
			value := getValue(record, idx)
			response.PossibleScore++
			if value == "" {
				continue
			}
			points, err := strconv.ParseFloat(value, 64)
			if err != nil || points < 0 {
				return response, false
			}
			response.Score += points
		}
		return response, true
	}

	score, err := strconv.ParseFloat(getValue(record, c.score), 64)
	if err != nil || score < 0 {
		return response, false
	}
	possible, err := strconv.ParseFloat(getValue(record, c.possible), 64)
	if err != nil || possible < 0 {
		return response, false
	}
	response.Score = score
	response.PossibleScore = possible
	return response, true
}

func newCSVReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	return reader
}

// loadResponsesCSV reads a combined export where every row names its form.
// Without a form_order column, forms are ordered by first appearance of
// their title.
func loadResponsesCSV(path string) ([]analytics.Batch, IngestStats, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, IngestStats{}, err
	}
	defer file.Close()

	reader := newCSVReader(file)
	headers, err := reader.Read()
	if err != nil {
		return nil, IngestStats{}, fmt.Errorf("unable to read header: %w", err)
	}
	cols, err := findResponseColumns(headers)
	if err != nil {
		return nil, IngestStats{}, err
	}
	colMap := normalizeHeaders(headers)
	orderIdx, _ := findColumn(colMap, orderColumns)
	titleIdx, _ := findColumn(colMap, titleColumns)
	strandIdx, _ := findColumn(colMap, strandColumns)
	if orderIdx < 0 && titleIdx < 0 {
		return nil, IngestStats{}, ErrMissingFormColumn
	}

	set := newBatchSet()
	titleOrders := map[string]int{}
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, IngestStats{}, fmt.Errorf("unable to read CSV: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		set.stats.Rows++

		title := getValue(record, titleIdx)
		order := -1
		if orderIdx >= 0 {
			parsed, err := strconv.Atoi(getValue(record, orderIdx))
			if err == nil && parsed >= 0 {
				order = parsed
			}
		} else if title != "" {
			known, ok := titleOrders[title]
			if !ok {
				known = len(titleOrders)
				titleOrders[title] = known
			}
			order = known
		}
		if order < 0 {
			set.stats.InvalidRows++
			continue
		}

		response, ok := cols.parse(record)
		if !ok {
			set.stats.InvalidRows++
			continue
		}
		set.add(set.form(order, title, getValue(record, strandIdx)), response)
	}
	return set.result(), set.stats, nil
}

func loadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return manifest, nil
}

// loadManifestBatches reads every form file listed in the manifest. Forms
// with no responses still become batches so students see them as missing.
func loadManifestBatches(path string) ([]analytics.Batch, IngestStats, error) {
	manifest, err := loadManifest(path)
	if err != nil {
		return nil, IngestStats{}, err
	}
	baseDir := filepath.Dir(path)

	set := newBatchSet()
	order := 0
	for _, strand := range manifest.Strands {
		strandName := strings.TrimSpace(strand.Name)
		if strandName == "" {
			continue
		}
		for _, form := range strand.Forms {
			file := strings.TrimSpace(form.File)
			if file == "" {
				continue
			}
			if !filepath.IsAbs(file) {
				file = filepath.Join(baseDir, file)
			}
			title := strings.TrimSpace(form.Title)
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
			}
			batch := set.form(order, title, strandName)
			if err := set.readFormFile(file, batch); err != nil {
				return nil, IngestStats{}, fmt.Errorf("form %d (%s): %w", order, title, err)
			}
			order++
		}
	}
	if order == 0 {
		return nil, IngestStats{}, ErrEmptyManifest
	}
	return set.result(), set.stats, nil
}

func (s *batchSet) readFormFile(path string, batch *analytics.Batch) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := newCSVReader(file)
	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("unable to read header: %w", err)
	}
	cols, err := findResponseColumns(headers)
	if err != nil {
		return err
	}
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("unable to read CSV: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		s.stats.Rows++
		response, ok := cols.parse(record)
		if !ok {
			s.stats.InvalidRows++
			continue
		}
		s.add(batch, response)
	}
}

func normalizeHeaders(headers []string) map[string]int {
	result := make(map[string]int, len(headers))
	for idx, header := range headers {
		normalized := normalizeHeader(header)
		if _, exists := result[normalized]; !exists {
			result[normalized] = idx
		}
	}
	return result
}

func normalizeHeader(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.ReplaceAll(value, " ", "")
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}

func findColumn(headers map[string]int, names []string) (int, bool) {
	for _, name := range names {
		if idx, ok := headers[normalizeHeader(name)]; ok {
			return idx, true
		}
	}
	return -1, false
}

func getValue(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
