package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/cyberlab-edu/assessment-service/internal/models"
)

func TestExportService_ExportAttempts(t *testing.T) {
	f := newFakeRepository()
	seedUsers(f)
	seedAssessment(f, nil)

	attemptSvc, _ := newTestAttemptService(f)
	attempt := startAttempt(t, attemptSvc, "learner-1")
	answers := []models.AttemptAnswer{
		{QuestionID: 101, SelectedOption: 1},
		{QuestionID: 102, SelectedOption: 0},
	}
	if _, err := attemptSvc.Submit(context.Background(), attempt.ID, &SubmitAttemptRequest{Answers: answers}, "learner-1"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	// An open attempt that must not appear in the export.
	startAttempt(t, attemptSvc, "learner-2")

	svc := NewExportService(f, slog.New(slog.NewTextHandler(io.Discard, nil)))

	t.Run("learner forbidden", func(t *testing.T) {
		_, err := svc.ExportAttempts(context.Background(), 1, "learner-1")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Errorf("expected PermissionError, got %v", err)
		}
	})

	t.Run("missing assessment", func(t *testing.T) {
		_, err := svc.ExportAttempts(context.Background(), 99, "teacher-1")
		if !errors.Is(err, ErrAssessmentNotFound) {
			t.Errorf("expected ErrAssessmentNotFound, got %v", err)
		}
	})

	t.Run("instructor exports completed attempts", func(t *testing.T) {
		data, err := svc.ExportAttempts(context.Background(), 1, "teacher-1")
		if err != nil {
			t.Fatalf("ExportAttempts failed: %v", err)
		}

		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("export is not a readable workbook: %v", err)
		}
		defer file.Close()

		rows, err := file.GetRows("Attempts")
		if err != nil {
			t.Fatalf("failed to read sheet: %v", err)
		}
		// Header plus the single completed attempt.
		if len(rows) != 2 {
			t.Fatalf("got %d rows, want 2", len(rows))
		}
		if rows[1][1] != "learner-1" {
			t.Errorf("learner column = %q, want learner-1", rows[1][1])
		}
	})
}
