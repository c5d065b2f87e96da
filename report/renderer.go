package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	json "github.com/goccy/go-json"
	"github.com/sugb/survey-backend/form"
	"github.com/sugb/survey-backend/log"
)

// Options is the pdf_generation job payload.
type Options struct {
	IncludeCharts       bool   `json:"includeCharts,omitempty"`
	IncludeBenchmarking bool   `json:"includeBenchmarking,omitempty"`
	Format              string `json:"format,omitempty"`      // A4 | Letter
	Orientation         string `json:"orientation,omitempty"` // portrait | landscape
}

// artifact names embed the response id so a cache miss can regenerate
// the exact same artifact: sugb-report-<responseID>-<unixms>.pdf
var artifactNameRe = regexp.MustCompile(`^sugb-report-([0-9a-fA-F-]{36})-(\d+)\.pdf$`)

// ArtifactURL is the locator recorded for a stored artifact name.
func ArtifactURL(name string) string {
	return "/api/pdf/download/" + name
}

// Renderer builds the SUGB pay-equity report PDF from a stored survey
// response and persists it through the artifact store.
type Renderer struct {
	source    ResponseSource
	artifacts ArtifactStore
}

func NewRenderer(source ResponseSource, artifacts ArtifactStore) *Renderer {
	return &Renderer{source: source, artifacts: artifacts}
}

// Render generates the report, stores it under a fresh timestamped name
// and records the locator against the response. Implements the queue's
// Renderer contract.
func (r *Renderer) Render(ctx context.Context, responseID string, options []byte) (string, error) {
	opts := Options{}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &opts); err != nil {
			return "", fmt.Errorf("report: parse options: %w", err)
		}
	}

	data, err := r.buildPDF(ctx, responseID, opts)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("sugb-report-%s-%d.pdf", responseID, time.Now().UnixMilli())
	if err := r.artifacts.Write(name, data); err != nil {
		return "", fmt.Errorf("report: store artifact: %w", err)
	}

	ref := ArtifactURL(name)
	if err := r.source.RecordArtifact(ctx, responseID, ref); err != nil {
		return "", fmt.Errorf("report: record artifact: %w", err)
	}
	return ref, nil
}

// Fetch returns a stored artifact by name. On a cache miss it regenerates
// the report from the response id embedded in the name and re-persists it
// under the same name, so previously handed-out locators keep working.
func (r *Renderer) Fetch(ctx context.Context, name string) ([]byte, error) {
	m := artifactNameRe.FindStringSubmatch(name)
	if m == nil {
		return nil, ErrNotFound
	}

	data, err := r.artifacts.Read(name)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	log.Debugf("report.fetch: regenerating missing artifact %s", name)
	data, err = r.buildPDF(ctx, m[1], Options{})
	if err != nil {
		return nil, err
	}
	if err := r.artifacts.Write(name, data); err != nil {
		return nil, fmt.Errorf("report: store artifact: %w", err)
	}
	return data, nil
}

func (r *Renderer) buildPDF(ctx context.Context, responseID string, opts Options) ([]byte, error) {
	data, err := r.source.ReportData(ctx, responseID)
	if err != nil {
		return nil, err
	}

	orientation := "P"
	if strings.EqualFold(opts.Orientation, "landscape") {
		orientation = "L"
	}
	format := "A4"
	if strings.EqualFold(opts.Format, "letter") {
		format = "Letter"
	}

	pdf := fpdf.New(orientation, "mm", format, "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	writeHeader(pdf, data)
	writeOrganization(pdf, data.Answers)
	writeCompensation(pdf, data.Answers)
	writeBenefits(pdf, data.Answers)
	writePension(pdf, data.Answers)
	writeFooter(pdf, data)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("report: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHeader(pdf *fpdf.Fpdf, data *ReportData) {
	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetTextColor(30, 64, 175)
	pdf.CellFormat(0, 12, "Standard Inquiry for Equitable Pay (SUGB)", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(107, 114, 128)
	pdf.CellFormat(0, 6, "Comprehensive Pay Equity Analysis Report", "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, "Generated on "+data.GeneratedAt.Format("January 2, 2006"), "", 1, "C", false, 0, "")
	pdf.Ln(4)
	pdf.SetDrawColor(37, 99, 235)
	pdf.SetLineWidth(0.8)
	x, y := pdf.GetXY()
	w, _ := pdf.GetPageSize()
	pdf.Line(x, y, w-15, y)
	pdf.Ln(6)
}

func writeOrganization(pdf *fpdf.Fpdf, answers form.AnswerMap) {
	sectionTitle(pdf, "Organization")
	keyValue(pdf, "Name", scalarOr(answers, "organization_name", "Unknown Organization"))
	keyValue(pdf, "Industry", scalarOr(answers, "organization_industry", "Not specified"))
	keyValue(pdf, "Size Category", scalarOr(answers, "organization_size", "Not specified"))
	keyValue(pdf, "Report Contact", scalarOr(answers, "contact_email", "Not specified"))
	pdf.Ln(4)
}

func writeCompensation(pdf *fpdf.Fpdf, answers form.AnswerMap) {
	sectionTitle(pdf, "Compensation Overview")

	gross := numberOr(answers, "gross_salary", 0)
	fte := ftePercentage(answers)
	annual := math.Round(gross * 12 * fte / 100)

	metric(pdf, formatEuro(gross), "Monthly Gross Salary")
	metric(pdf, formatEuro(annual), "Annual (FTE Adjusted)")

	keyValue(pdf, "Salary Scale", scalarOr(answers, "salary_scale", "Not specified"))
	keyValue(pdf, "Salary Step", scalarOr(answers, "salary_step", "Not specified"))
	keyValue(pdf, "FTE Percentage", fmt.Sprintf("%.0f%%", fte))
	keyValue(pdf, "Holiday Allowance", scalarOr(answers, "holiday_allowance", "Not specified")+"%")
	pdf.Ln(4)
}

func writeBenefits(pdf *fpdf.Fpdf, answers form.AnswerMap) {
	sectionTitle(pdf, "Benefits & Allowances")

	allowances := answers["allowance_types"].Selected
	if len(allowances) == 0 {
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetTextColor(75, 85, 99)
		pdf.CellFormat(0, 6, "No allowances reported", "", 1, "L", false, 0, "")
		pdf.Ln(4)
		return
	}

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(75, 85, 99)
	pdf.CellFormat(0, 6, fmt.Sprintf("Allowances: %d type(s)", len(allowances)), "", 1, "L", false, 0, "")
	for _, a := range allowances {
		pdf.SetFillColor(236, 253, 245)
		pdf.CellFormat(0, 7, "  "+a, "1", 1, "L", true, 0, "")
	}
	if expl := answers["allowance_types"].Explanation; strings.TrimSpace(expl) != "" {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.MultiCell(0, 5, "Details: "+expl, "", "L", false)
	}
	pdf.Ln(4)
}

func writePension(pdf *fpdf.Fpdf, answers form.AnswerMap) {
	sectionTitle(pdf, "Pension")
	keyValue(pdf, "Scheme", scalarOr(answers, "pension_scheme", "Not specified"))
	keyValue(pdf, "Employer Contribution", scalarOr(answers, "employer_contribution", "Not specified")+"%")
	keyValue(pdf, "Employee Contribution", scalarOr(answers, "employee_contribution", "Not specified")+"%")
	keyValue(pdf, "IKB Amount", formatEuro(numberOr(answers, "ikb_amount", 0)))
	pdf.Ln(4)
}

func writeFooter(pdf *fpdf.Fpdf, data *ReportData) {
	pdf.Ln(6)
	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(107, 114, 128)
	pdf.CellFormat(0, 5, fmt.Sprintf("Report ID: %s - Generated: %s", data.ResponseID, data.GeneratedAt.UTC().Format(time.RFC3339)), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 5, "This document may contain confidential salary information.", "", 1, "C", false, 0, "")
}

func sectionTitle(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.SetTextColor(17, 24, 39)
	pdf.CellFormat(0, 8, title, "B", 1, "L", false, 0, "")
	pdf.Ln(2)
}

func keyValue(pdf *fpdf.Fpdf, label, value string) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetTextColor(55, 65, 81)
	pdf.CellFormat(55, 6, label, "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(75, 85, 99)
	pdf.CellFormat(0, 6, value, "", 1, "L", false, 0, "")
}

func metric(pdf *fpdf.Fpdf, amount, label string) {
	pdf.SetFillColor(37, 99, 235)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, amount, "", 1, "C", true, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, label, "", 1, "C", true, 0, "")
	pdf.SetTextColor(17, 24, 39)
	pdf.Ln(2)
}

func scalarOr(answers form.AnswerMap, id, fallback string) string {
	a := answers[id]
	if v := strings.TrimSpace(a.Value); v != "" {
		return v
	}
	return fallback
}

func numberOr(answers form.AnswerMap, id string, fallback float64) float64 {
	v := strings.TrimSpace(answers[id].Value)
	v = strings.ReplaceAll(v, ",", "")
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return fallback
	}
	return n
}

// ftePercentage clamps the reported FTE to a sane range; anything
// unusable falls back to full-time.
func ftePercentage(answers form.AnswerMap) float64 {
	n := numberOr(answers, "fte_percentage", 100)
	if n <= 0 {
		return 100
	}
	return math.Min(200, math.Max(1, math.Round(n)))
}

func formatEuro(n float64) string {
	whole := strconv.FormatFloat(math.Abs(math.Trunc(n)), 'f', 0, 64)
	var grouped strings.Builder
	for i, d := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(d)
	}
	sign := ""
	if n < 0 {
		sign = "-"
	}
	return "EUR " + sign + grouped.String()
}
