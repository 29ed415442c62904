package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/cyberlab-edu/assessment-service/internal/models"
	"github.com/cyberlab-edu/assessment-service/internal/repositories"
)

type exportService struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewExportService(repo repositories.Repository, logger *slog.Logger) ExportService {
	return &exportService{
		repo:   repo,
		logger: logger,
	}
}

// exportPageSize bounds each repository fetch while paging through attempts.
const exportPageSize = 500

func (s *exportService) ExportAttempts(ctx context.Context, assessmentID uint, userID string) ([]byte, error) {
	s.logger.Info("Exporting attempts",
		"assessment_id", assessmentID,
		"user_id", userID)

	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !user.Role.IsElevated() {
		return nil, NewPermissionError(userID, assessmentID, "assessment", "export_attempts", "insufficient permissions")
	}

	assessment, err := s.repo.Assessment().GetByID(ctx, nil, assessmentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	attempts, err := s.fetchCompletedAttempts(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	file := excelize.NewFile()
	defer file.Close()

	sheet := "Attempts"
	file.SetSheetName(file.GetSheetName(0), sheet)

	headers := []string{"Attempt ID", "Learner ID", "Attempt #", "Started At", "Completed At", "Score", "Passed", "Time Spent (s)"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		file.SetCellValue(sheet, cell, header)
	}

	for row, attempt := range attempts {
		values := []interface{}{
			attempt.ID,
			attempt.LearnerID,
			attempt.AttemptNumber,
			attempt.StartedAt.Format(time.RFC3339),
			attempt.CompletedAt.Format(time.RFC3339),
			derefInt(attempt.Score),
			attempt.Passed,
			derefInt(attempt.TimeSpent),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			file.SetCellValue(sheet, cell, value)
		}
	}

	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}

	s.logger.Info("Attempts exported",
		"assessment_id", assessmentID,
		"assessment_title", assessment.Title,
		"rows", len(attempts))

	return buf.Bytes(), nil
}

func (s *exportService) fetchCompletedAttempts(ctx context.Context, assessmentID uint) ([]*models.AssessmentAttempt, error) {
	completed := true
	var all []*models.AssessmentAttempt

	for offset := 0; ; offset += exportPageSize {
		filters := repositories.AttemptFilters{
			Completed: &completed,
			Limit:     exportPageSize,
			Offset:    offset,
		}
		page, total, err := s.repo.Attempt().ListByAssessment(ctx, nil, assessmentID, filters)
		if err != nil {
			return nil, fmt.Errorf("failed to list attempts: %w", err)
		}
		all = append(all, page...)
		if len(all) >= int(total) || len(page) == 0 {
			break
		}
	}

	return all, nil
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
