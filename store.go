package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"exit-ticket-audit/internal/analytics"
)

const dbTimeout = 12 * time.Second

// Student list categories stored in audit_student_flags.
const (
	flagTop10       = "top10"
	flagBottom10    = "bottom10"
	flagTopFlier    = "top_flier"
	flagBottomFlier = "bottom_flier"
)

type studentFlag struct {
	Category string
	Student  analytics.StudentRef
}

func studentFlags(cohort analytics.CohortReport) []studentFlag {
	var flags []studentFlag
	add := func(category string, students []analytics.StudentRef) {
		for _, student := range students {
			flags = append(flags, studentFlag{Category: category, Student: student})
		}
	}
	add(flagTop10, cohort.Top10Students)
	add(flagBottom10, cohort.Bottom10Students)
	add(flagTopFlier, cohort.TopFliers)
	add(flagBottomFlier, cohort.BottomFliers)
	return flags
}

func openDB(ctx context.Context, cfg DBConfig) (*sql.DB, string, error) {
	schema, err := sanitizeSchema(cfg.Schema)
	if err != nil {
		return nil, "", err
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, "", err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", err
	}
	if err := ensureSchema(ctx, db, schema); err != nil {
		db.Close()
		return nil, "", err
	}
	return db, schema, nil
}

// initDatabase creates the archive schema without storing a run.
func initDatabase(cfg DBConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	db, _, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	return db.Close()
}

// storeReportInDB archives one run. Archived runs are never read back.
func storeReportInDB(report Report, cfg DBConfig) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	db, schema, err := openDB(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer db.Close()

	return storeReportTx(ctx, db, report, schema, cfg.Tag)
}

func storeReportTx(ctx context.Context, db *sql.DB, report Report, schema string, tag string) (string, error) {
	runID := uuid.New()
	asOfDate, err := time.Parse("2006-01-02", report.AsOf)
	if err != nil {
		return "", err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	opts := report.Options
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.audit_runs (
			id, as_of, total_forms, total_students, qualified_students,
			total_rows, invalid_rows, duplicate_rows, completion_threshold,
			decile_fraction, flier_window, flier_threshold, run_tag
		) VALUES (
			$1,$2,$3,$4,$5,
			$6,$7,$8,$9,
			$10,$11,$12,$13
		)`, schema),
		runID,
		asOfDate,
		report.Cohort.TotalForms,
		len(report.Students),
		report.Cohort.QualifiedStudents,
		report.Ingest.Rows,
		report.Ingest.InvalidRows,
		report.Ingest.DuplicateRows,
		opts.CompletionThreshold,
		opts.DecileFraction,
		opts.FlierWindow,
		opts.FlierThreshold,
		nullString(tag),
	)
	if err != nil {
		return "", err
	}

	insertAverageSQL := fmt.Sprintf(`
		INSERT INTO %s.audit_teacher_period_averages (
			id, run_id, period, teacher, avg_score
		) VALUES ($1,$2,$3,$4,$5)`, schema)
	for _, entry := range report.Cohort.TeacherPeriodAverages {
		_, err = tx.ExecContext(ctx, insertAverageSQL, uuid.New(), runID, entry.Period, entry.Teacher, entry.AvgScore)
		if err != nil {
			return "", err
		}
	}

	insertFlagSQL := fmt.Sprintf(`
		INSERT INTO %s.audit_student_flags (
			id, run_id, category, email, student_name, teacher
		) VALUES ($1,$2,$3,$4,$5,$6)`, schema)
	for _, flag := range studentFlags(report.Cohort) {
		_, err = tx.ExecContext(ctx, insertFlagSQL,
			uuid.New(),
			runID,
			flag.Category,
			flag.Student.Email,
			nullString(flag.Student.StudentName),
			nullString(flag.Student.Teacher),
		)
		if err != nil {
			return "", err
		}
	}

	insertStrandSQL := fmt.Sprintf(`
		INSERT INTO %s.audit_strand_teachers (
			id, run_id, strand, best_teacher, worst_teacher
		) VALUES ($1,$2,$3,$4,$5)`, schema)
	for strand, entry := range report.Cohort.TopBottomTeachers {
		worst := sql.NullString{}
		if entry.WorstTeacher != nil {
			worst = sql.NullString{String: *entry.WorstTeacher, Valid: true}
		}
		_, err = tx.ExecContext(ctx, insertStrandSQL, uuid.New(), runID, strand, entry.BestTeacher, worst)
		if err != nil {
			return "", err
		}
	}

	insertStudentSQL := fmt.Sprintf(`
		INSERT INTO %s.audit_student_reports (
			id, run_id, email, display_name, teacher, period,
			average, class_average, completed_count, missing_count
		) VALUES (
			$1,$2,$3,$4,$5,$6,
			$7,$8,$9,$10
		)`, schema)
	for _, student := range report.Students {
		_, err = tx.ExecContext(ctx, insertStudentSQL,
			uuid.New(),
			runID,
			student.Email,
			nullString(student.DisplayName),
			nullString(student.Teacher),
			nullString(student.Period),
			student.Average,
			student.ClassAverage,
			len(student.Completed),
			len(student.Missing),
		)
		if err != nil {
			return "", err
		}
	}

	if err = tx.Commit(); err != nil {
		return "", err
	}
	return runID.String(), nil
}

func ensureSchema(ctx context.Context, db *sql.DB, schema string) error {
	for _, statement := range schemaStatements(schema) {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}

func schemaStatements(schema string) []string {
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.audit_runs (
			id uuid PRIMARY KEY,
			as_of date NOT NULL,
			total_forms integer NOT NULL,
			total_students integer NOT NULL,
			qualified_students integer NOT NULL,
			total_rows integer NOT NULL,
			invalid_rows integer NOT NULL,
			duplicate_rows integer NOT NULL,
			completion_threshold numeric(6,4) NOT NULL,
			decile_fraction numeric(6,4) NOT NULL,
			flier_window integer NOT NULL,
			flier_threshold numeric(6,4) NOT NULL,
			run_tag text,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, schema),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.audit_teacher_period_averages (
			id uuid PRIMARY KEY,
			run_id uuid NOT NULL REFERENCES %s.audit_runs(id) ON DELETE CASCADE,
			period text NOT NULL,
			teacher text NOT NULL,
			avg_score double precision NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, schema, schema),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.audit_student_flags (
			id uuid PRIMARY KEY,
			run_id uuid NOT NULL REFERENCES %s.audit_runs(id) ON DELETE CASCADE,
			category text NOT NULL,
			email text NOT NULL,
			student_name text,
			teacher text,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, schema, schema),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.audit_strand_teachers (
			id uuid PRIMARY KEY,
			run_id uuid NOT NULL REFERENCES %s.audit_runs(id) ON DELETE CASCADE,
			strand text NOT NULL,
			best_teacher text NOT NULL,
			worst_teacher text,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, schema, schema),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.audit_student_reports (
			id uuid PRIMARY KEY,
			run_id uuid NOT NULL REFERENCES %s.audit_runs(id) ON DELETE CASCADE,
			email text NOT NULL,
			display_name text,
			teacher text,
			period text,
			average double precision NOT NULL,
			class_average double precision NOT NULL,
			completed_count integer NOT NULL,
			missing_count integer NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, schema, schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_audit_teacher_period_averages_run_idx ON %s.audit_teacher_period_averages (run_id)`, schema, schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_audit_student_flags_run_idx ON %s.audit_student_flags (run_id, category)`, schema, schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_audit_strand_teachers_run_idx ON %s.audit_strand_teachers (run_id)`, schema, schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_audit_student_reports_run_idx ON %s.audit_student_reports (run_id)`, schema, schema),
	}
}

func nullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
