package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	analytics "filterwatch/internal/analytics/domain"
)

// BuildValidationPDF renders a minimal PDF for one day's validation
// results.
func BuildValidationPDF(day time.Time, summaries []*analytics.DailySummary) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Runtime Validation Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Day: %s", day.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Devices: %d", len(summaries)))
	pdf.Ln(5)
	corrected := 0
	for _, s := range summaries {
		if s.IsCorrected {
			corrected++
		}
	}
	pdf.Cell(0, 6, fmt.Sprintf("Corrected: %d", corrected))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(45, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Reported (s)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Metered (s)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Discrepancy (s)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Coverage", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Corrected", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, s := range summaries {
		pdf.CellFormat(45, 6, s.DeviceKey, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", s.TotalSeconds()), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", s.ValidatedTotalSeconds), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", s.DiscrepancySeconds), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.1f%%", s.CoveragePercent()), "1", 0, "R", false, 0, "")
		pdf.CellFormat(20, 6, boolCell(s.IsCorrected), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildValidationXLSX renders a minimal XLSX for one day's validation
// results.
func BuildValidationXLSX(day time.Time, summaries []*analytics.DailySummary) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	devicesSheet := "devices"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(devicesSheet)

	corrected := 0
	for _, s := range summaries {
		if s.IsCorrected {
			corrected++
		}
	}
	_ = f.SetCellValue(summarySheet, "A1", "Runtime Validation Report")
	_ = f.SetCellValue(summarySheet, "A3", "Day")
	_ = f.SetCellValue(summarySheet, "B3", day.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A4", "Devices")
	_ = f.SetCellValue(summarySheet, "B4", len(summaries))
	_ = f.SetCellValue(summarySheet, "A5", "Corrected")
	_ = f.SetCellValue(summarySheet, "B5", corrected)

	headers := []string{
		"device_key", "heat_seconds", "cool_seconds", "fan_seconds", "aux_heat_seconds",
		"validated_heat_seconds", "validated_cool_seconds", "validated_aux_seconds", "validated_fan_seconds",
		"validated_total_seconds", "discrepancy_seconds", "coverage_intervals", "coverage_percent", "is_corrected",
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(devicesSheet, cell, header)
	}
	for i, s := range summaries {
		row := i + 2
		values := []any{
			s.DeviceKey, s.HeatSeconds, s.CoolSeconds, s.FanSeconds, s.AuxHeatSeconds,
			s.ValidatedHeatSeconds, s.ValidatedCoolSeconds, s.ValidatedAuxSeconds, s.ValidatedFanSeconds,
			s.ValidatedTotalSeconds, s.DiscrepancySeconds, s.CoverageIntervals, s.CoveragePercent(), s.IsCorrected,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(devicesSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func boolCell(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
