// Package notify renders per-student exit ticket reports as email messages
// and delivers them.
package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltmpl "html/template"
	"net/mail"
	texttmpl "text/template"
	"time"

	"github.com/google/uuid"

	"exit-ticket-audit/internal/analytics"
)

//go:embed templates
var templateFS embed.FS

var (
	htmlTemplate = htmltmpl.Must(htmltmpl.ParseFS(templateFS, "templates/report.gohtml"))
	textTemplate = texttmpl.Must(texttmpl.ParseFS(templateFS, "templates/report.txt"))
)

const untitled = "Untitled"

// Message is a rendered student report ready for delivery.
type Message struct {
	ID          string
	To          mail.Address
	Subject     string
	TextContent string
	HTMLContent string
}

type reportView struct {
	Name         string
	Email        string
	Average      float64
	ClassAverage float64
	Teacher      string
	Period       string
	Completed    []completedView
	Missing      []missingView
}

type completedView struct {
	Strand        string
	Title         string
	Number        int
	StudentAvg    float64
	ClassAvg      float64
	GradeLevelAvg float64
	Color         htmltmpl.CSS
}

type missingView struct {
	Strand string
	Title  string
	Number int
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func newReportView(report analytics.StudentReport) reportView {
	view := reportView{
		Name:         report.DisplayName,
		Email:        report.Email,
		Average:      report.Average,
		ClassAverage: report.ClassAverage,
		Teacher:      orDefault(report.Teacher, "N/A"),
		Period:       orDefault(report.Period, "N/A"),
	}
	for _, form := range report.Completed {
		view.Completed = append(view.Completed, completedView{
			Strand:        orDefault(form.FormStrand, untitled),
			Title:         orDefault(form.FormTitle, untitled),
			Number:        form.FormOrder + 1,
			StudentAvg:    form.StudentAvg,
			ClassAvg:      form.ClassAvg,
			GradeLevelAvg: form.GradeLevelAvg,
			Color:         htmltmpl.CSS(analytics.PercentBand(form.StudentAvg).Color()),
		})
	}
	for _, form := range report.Missing {
		view.Missing = append(view.Missing, missingView{
			Strand: orDefault(form.FormStrand, untitled),
			Title:  orDefault(form.FormTitle, untitled),
			Number: form.FormOrder + 1,
		})
	}
	return view
}

// Subject is the report subject line for the given send date.
func Subject(report analytics.StudentReport, date time.Time) string {
	return fmt.Sprintf("%s's Exit Ticket Report - %s - %s",
		report.DisplayName,
		date.Format("1/2/2006"),
		orDefault(report.Teacher, "No Teacher"),
	)
}

// Render builds the message for one student report.
func Render(report analytics.StudentReport, date time.Time) (*Message, error) {
	view := newReportView(report)

	var text bytes.Buffer
	if err := textTemplate.Execute(&text, view); err != nil {
		return nil, fmt.Errorf("render text for %s: %w", report.Email, err)
	}
	var html bytes.Buffer
	if err := htmlTemplate.Execute(&html, view); err != nil {
		return nil, fmt.Errorf("render html for %s: %w", report.Email, err)
	}

	return &Message{
		ID:          uuid.NewString(),
		To:          mail.Address{Name: report.DisplayName, Address: report.Email},
		Subject:     Subject(report, date),
		TextContent: text.String(),
		HTMLContent: html.String(),
	}, nil
}
