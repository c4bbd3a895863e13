package worker

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veriloc/backend/internal/attendance"
	"github.com/veriloc/backend/internal/models"
	"github.com/veriloc/backend/internal/reports"
	"github.com/veriloc/backend/pkg/queue"
	"github.com/veriloc/backend/pkg/storage"
)

// ReportProcessor processes report export jobs: query attendance, render CSV,
// upload to S3, update the report row.
type ReportProcessor struct {
	reportRepo     *reports.Repository
	attendanceRepo *attendance.Repository
	s3             *storage.S3
	queue          *queue.Queue
	logger         *zap.Logger
}

// NewReportProcessor creates a report export processor.
func NewReportProcessor(reportRepo *reports.Repository, attendanceRepo *attendance.Repository, s3 *storage.S3, q *queue.Queue, logger *zap.Logger) *ReportProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportProcessor{
		reportRepo:     reportRepo,
		attendanceRepo: attendanceRepo,
		s3:             s3,
		queue:          q,
		logger:         logger,
	}
}

// Process executes one report export job.
func (p *ReportProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeReportExport {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ReportExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	report, err := p.reportRepo.GetByID(ctx, payload.ReportID)
	if err != nil || report == nil {
		return fmt.Errorf("report not found: %s", payload.ReportID)
	}
	if report.Status == models.ReportStatusCompleted {
		p.logger.Info("report already completed", zap.String("report_id", report.ID.String()))
		return nil
	}

	rows, err := p.attendanceRepo.ListForExport(ctx, payload.CohortCode, payload.FromDate, payload.ToDate)
	if err != nil {
		return fmt.Errorf("query attendance: %w", err)
	}

	body, err := renderCSV(rows)
	if err != nil {
		return fmt.Errorf("render csv: %w", err)
	}

	key := storage.ReportKey(payload.CohortCode, payload.ReportID.String())
	if err := p.s3.Upload(ctx, p.s3.ReportsBucket(), key, "text/csv", bytes.NewReader(body)); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	if err := p.reportRepo.MarkCompleted(ctx, payload.ReportID, key, time.Now()); err != nil {
		p.logger.Error("mark report completed failed", zap.Error(err), zap.String("report_id", payload.ReportID.String()))
		return fmt.Errorf("update db: %w", err)
	}

	p.logger.Info("report export completed",
		zap.String("report_id", payload.ReportID.String()),
		zap.String("s3_key", key), zap.Int("rows", len(rows)))
	return nil
}

func renderCSV(rows []attendance.ExportRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"full_name", "email", "date", "marked_at"}); err != nil {
		return nil, err
	}
	for _, row := range rows {
		rec := []string{row.FullName, row.Email, row.DateKey, row.MarkedAt.UTC().Format(time.RFC3339)}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Run starts the worker loop: dequeue, process, retry on error. Jobs that
// exhaust their retries mark the report failed so requesters are not left
// polling a pending row forever.
func (p *ReportProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("report worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			if job.Attempt >= queue.MaxRetries {
				p.markFailed(ctx, job)
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}

func (p *ReportProcessor) markFailed(ctx context.Context, job *queue.Job) {
	var payload queue.ReportExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return
	}
	if err := p.reportRepo.MarkFailed(ctx, payload.ReportID); err != nil {
		p.logger.Error("mark report failed errored", zap.Error(err), zap.String("report_id", payload.ReportID.String()))
	}
}
