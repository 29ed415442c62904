package validator

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cyberlab-edu/assessment-service/internal/models"
)

// Validator handles request and business rule validation
type Validator struct {
	validate *validator.Validate
}

// ValidationError represents a single field validation failure
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	if len(ve) == 1 {
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(ve))
}

// New creates a validator with all custom rules registered
func New() *Validator {
	v := &Validator{validate: validator.New()}
	v.registerRules()
	return v
}

// Validate validates a struct, returning nil when it passes
func (v *Validator) Validate(s interface{}) ValidationErrors {
	err := v.validate.Struct(s)
	if err != nil {
		return v.toValidationErrors(err)
	}
	return nil
}

// ValidateQuestions checks the structural invariants of a question set:
// at least two options per question and a correct answer index that
// points at an existing option.
func (v *Validator) ValidateQuestions(questions []QuestionRequest) ValidationErrors {
	var errors ValidationErrors

	for i, q := range questions {
		if len(q.Options) < 2 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("questions[%d].options", i),
				Message: "must have at least 2 options",
				Value:   len(q.Options),
				Rule:    "question_options",
			})
			continue
		}
		if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("questions[%d].correct_answer", i),
				Message: fmt.Sprintf("must be between 0 and %d", len(q.Options)-1),
				Value:   q.CorrectAnswer,
				Rule:    "correct_answer_range",
			})
		}
		for j, opt := range q.Options {
			if strings.TrimSpace(opt) == "" {
				errors = append(errors, ValidationError{
					Field:   fmt.Sprintf("questions[%d].options[%d]", i, j),
					Message: "option cannot be empty",
					Value:   opt,
					Rule:    "question_options",
				})
			}
		}
	}

	return errors
}

// registerRules registers custom validators
func (v *Validator) registerRules() {
	// Passing score validation (0-100)
	v.validate.RegisterValidation("passing_score", func(fl validator.FieldLevel) bool {
		score := fl.Field().Int()
		return score >= 0 && score <= 100
	})

	// Max attempts validation (0 means unlimited)
	v.validate.RegisterValidation("max_attempts", func(fl validator.FieldLevel) bool {
		attempts := fl.Field().Int()
		return attempts >= 0 && attempts <= 50
	})

	// Title validation (1-200 characters)
	v.validate.RegisterValidation("assessment_title", func(fl validator.FieldLevel) bool {
		title := strings.TrimSpace(fl.Field().String())
		return len(title) >= 1 && len(title) <= 200
	})

	// Answer disclosure policy validation
	v.validate.RegisterValidation("show_answers_policy", func(fl validator.FieldLevel) bool {
		policy := models.ShowAnswersPolicy(fl.Field().String())
		switch policy {
		case models.ShowAnswersNever, models.ShowAnswersAfterSubmission, models.ShowAnswersAfterDueDate:
			return true
		}
		return false
	})

	// Due date validation (must be in future when set)
	v.validate.RegisterValidation("future_date", func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Kind() == reflect.Ptr && field.IsNil() {
			return true // Optional field
		}

		var dueDate time.Time
		if field.Kind() == reflect.Ptr {
			dueDate = field.Elem().Interface().(time.Time)
		} else {
			dueDate = field.Interface().(time.Time)
		}

		return dueDate.After(time.Now())
	})
}

func (v *Validator) toValidationErrors(err error) ValidationErrors {
	var errors ValidationErrors

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return ValidationErrors{{Field: "request", Message: err.Error()}}
	}

	for _, fieldErr := range validationErrs {
		errors = append(errors, ValidationError{
			Field:   fieldErr.Field(),
			Message: v.getErrorMessage(fieldErr),
			Value:   fieldErr.Value(),
			Rule:    fieldErr.Tag(),
		})
	}

	return errors
}

// getErrorMessage returns user-friendly error messages
func (v *Validator) getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", err.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", err.Param())
	case "passing_score":
		return "must be between 0 and 100"
	case "max_attempts":
		return "must be between 0 and 50"
	case "assessment_title":
		return "must be between 1 and 200 characters"
	case "show_answers_policy":
		return "must be never, after_submission or after_due_date"
	case "future_date":
		return "must be in the future"
	default:
		return fmt.Sprintf("validation failed for rule '%s'", err.Tag())
	}
}
