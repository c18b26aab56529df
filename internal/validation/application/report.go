package application

import (
	"archive/zip"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	analytics "filterwatch/internal/analytics/domain"
	analyticspg "filterwatch/internal/analytics/infrastructure/postgres"
	sessions "filterwatch/internal/sessions/domain"
	"filterwatch/internal/validation/interfaces"
)

// ReportService writes a daily validation report bundle to disk: a CSV
// with per-device numbers, an XLSX and a PDF rendering of the same,
// zipped together for download.
type ReportService struct {
	db     *sql.DB
	clock  sessions.Clock
	outDir string
	logger *log.Logger
}

// NewReportService constructs the worker.
func NewReportService(db *sql.DB, clock sessions.Clock, outDir string, logger *log.Logger) (*ReportService, error) {
	if db == nil {
		return nil, errors.New("report service: nil db")
	}
	if outDir == "" {
		return nil, errors.New("report service: empty output dir")
	}
	if clock == nil {
		clock = sessions.SystemClock{}
	}
	return &ReportService{db: db, clock: clock, outDir: outDir, logger: logger}, nil
}

// Run builds the bundle for the previous UTC day.
func (s *ReportService) Run(ctx context.Context) error {
	now := s.clock.Now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)

	summaryRepo := analyticspg.NewSummaryRepository(s.db)
	summaries, err := summaryRepo.ListForDay(ctx, day)
	if err != nil {
		return fmt.Errorf("report service: list day %s: %w", day.Format("2006-01-02"), err)
	}
	if len(summaries) == 0 {
		s.logf("validation_report_skipped day=%s reason=no_summaries", day.Format("2006-01-02"))
		return nil
	}

	dir := filepath.Join(s.outDir, day.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("report service: mkdir: %w", err)
	}

	if err := writeSummaryCSV(filepath.Join(dir, "validation.csv"), summaries); err != nil {
		return fmt.Errorf("report service: csv: %w", err)
	}
	xlsx, err := interfaces.BuildValidationXLSX(day, summaries)
	if err != nil {
		return fmt.Errorf("report service: xlsx: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "validation.xlsx"), xlsx, 0o644); err != nil {
		return err
	}
	pdf, err := interfaces.BuildValidationPDF(day, summaries)
	if err != nil {
		return fmt.Errorf("report service: pdf: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "validation.pdf"), pdf, 0o644); err != nil {
		return err
	}

	archivePath, err := writeArchive(dir)
	if err != nil {
		return fmt.Errorf("report service: archive: %w", err)
	}
	if err := s.recordReport(ctx, day, len(summaries), archivePath); err != nil {
		return fmt.Errorf("report service: record: %w", err)
	}
	s.logf("validation_report_done day=%s devices=%d archive=%s", day.Format("2006-01-02"), len(summaries), archivePath)
	return nil
}

// recordReport upserts the day's report row so re-runs point at the
// latest bundle.
func (s *ReportService) recordReport(ctx context.Context, day time.Time, deviceCount int, archivePath string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO validation_reports (
	id, day, device_count, archive_path, generated_at
) VALUES (
	$1,$2,$3,$4,$5
)
ON CONFLICT (day) DO UPDATE SET
	device_count = EXCLUDED.device_count,
	archive_path = EXCLUDED.archive_path,
	generated_at = EXCLUDED.generated_at`,
		uuid.NewString(), day.Format("2006-01-02"), deviceCount, archivePath, s.clock.Now().UTC())
	return err
}

func writeSummaryCSV(path string, summaries []*analytics.DailySummary) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{
		"device_key",
		"day",
		"session_count",
		"heat_seconds",
		"cool_seconds",
		"fan_seconds",
		"aux_heat_seconds",
		"unknown_seconds",
		"validated_heat_seconds",
		"validated_cool_seconds",
		"validated_aux_seconds",
		"validated_fan_seconds",
		"validated_total_seconds",
		"discrepancy_seconds",
		"coverage_intervals",
		"coverage_percent",
		"is_corrected",
		"corrected_at",
	}); err != nil {
		return err
	}

	for _, s := range summaries {
		correctedAt := ""
		if s.CorrectedAt != nil {
			correctedAt = s.CorrectedAt.UTC().Format(time.RFC3339)
		}
		if err := writer.Write([]string{
			s.DeviceKey,
			s.Day.Format("2006-01-02"),
			strconv.Itoa(s.SessionCount),
			strconv.FormatInt(s.HeatSeconds, 10),
			strconv.FormatInt(s.CoolSeconds, 10),
			strconv.FormatInt(s.FanSeconds, 10),
			strconv.FormatInt(s.AuxHeatSeconds, 10),
			strconv.FormatInt(s.UnknownSeconds, 10),
			strconv.FormatInt(s.ValidatedHeatSeconds, 10),
			strconv.FormatInt(s.ValidatedCoolSeconds, 10),
			strconv.FormatInt(s.ValidatedAuxSeconds, 10),
			strconv.FormatInt(s.ValidatedFanSeconds, 10),
			strconv.FormatInt(s.ValidatedTotalSeconds, 10),
			strconv.FormatInt(s.DiscrepancySeconds, 10),
			strconv.Itoa(s.CoverageIntervals),
			strconv.FormatFloat(s.CoveragePercent(), 'f', 1, 64),
			strconv.FormatBool(s.IsCorrected),
			correctedAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeArchive(dir string) (string, error) {
	archivePath := filepath.Join(dir, "report.zip")
	file, err := os.Create(archivePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	zipWriter := zip.NewWriter(file)
	defer zipWriter.Close()

	for _, name := range []string{"validation.csv", "validation.xlsx", "validation.pdf"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		fw, err := zipWriter.Create(name)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		if _, err := fw.Write(data); err != nil {
			return "", err
		}
	}
	return archivePath, nil
}

func (s *ReportService) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
