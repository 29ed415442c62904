package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern safely invalidates cache pattern with logging
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete safely deletes cache keys with logging
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// InvalidateAssessmentCache drops every cached view of an assessment,
// including its attempt stats. Called after any write to the assessment
// or its question set.
func InvalidateAssessmentCache(ctx context.Context, cm *CacheManager, assessmentID uint) {
	SafeDelete(ctx, cm.Assessment, fmt.Sprintf("id:%d:questions", assessmentID))
	SafeInvalidatePattern(ctx, cm.Stats, fmt.Sprintf("assessment:%d:*", assessmentID))
}
