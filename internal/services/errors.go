package services

import (
	"errors"
	"fmt"

	"github.com/cyberlab-edu/assessment-service/internal/validator"
)

// Sentinel errors mapped to HTTP statuses at the handler layer.
var (
	ErrAssessmentNotFound      = errors.New("assessment not found")
	ErrAttemptNotFound         = errors.New("attempt not found")
	ErrAssessmentPastDue       = errors.New("assessment due date has passed")
	ErrAttemptLimitExceeded    = errors.New("maximum attempts exceeded")
	ErrAttemptAlreadySubmitted = errors.New("attempt already submitted")
	ErrConcurrencyConflict     = errors.New("conflicting concurrent request, retry")
)

// ValidationErrors re-exports the validator error type for callers that only
// import services.
type ValidationErrors = validator.ValidationErrors

// PermissionError indicates the user is not allowed to perform an operation
// on a resource.
type PermissionError struct {
	UserID     string
	ResourceID uint
	Resource   string
	Action     string
	Reason     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s cannot %s %s %d: %s", e.UserID, e.Action, e.Resource, e.ResourceID, e.Reason)
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

// BusinessRuleError indicates a domain rule rejected the operation.
type BusinessRuleError struct {
	Rule    string
	Message string
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule %s violated: %s", e.Rule, e.Message)
}

func NewBusinessRuleError(rule, message string) *BusinessRuleError {
	return &BusinessRuleError{Rule: rule, Message: message}
}
