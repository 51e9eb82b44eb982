package event

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// componentPattern restricts component identifiers to lowercase alphanumerics
// and interior hyphens.
var componentPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// validate is the shared validator instance for raw telemetry records.
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("component", func(fl validator.FieldLevel) bool {
		return componentPattern.MatchString(fl.Field().String())
	})
}

// ValidationError describes a rejected telemetry record. Field names the
// first offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: field %s: %s", e.Field, e.Reason)
}

// Validator normalizes raw telemetry into canonical events. Stateless apart
// from its logging side channel.
type Validator struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewValidator creates a validator. A nil logger disables logging.
func NewValidator(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{logger: logger, now: time.Now}
}

// Validate checks a raw record and returns the canonical Event, or a
// *ValidationError naming the offending field. Rejected records are logged
// and must not be forwarded downstream.
func (v *Validator) Validate(raw Raw) (*Event, error) {
	if err := validate.Struct(raw); err != nil {
		verr := asValidationError(err)
		v.logger.Warn("dropping invalid event",
			zap.String("component", raw.Component),
			zap.String("field", verr.Field),
			zap.String("reason", verr.Reason),
		)
		metricValidationFailures.WithLabelValues(verr.Field).Inc()
		return nil, verr
	}

	severity := Severity(raw.Severity)
	if severity == "" {
		severity = SeverityLow
	}

	ev := &Event{
		Component:  raw.Component,
		Timestamp:  v.now().UTC(),
		LatencyP99: raw.LatencyP99,
		ErrorRate:  raw.ErrorRate,
		Throughput: raw.Throughput,
		Severity:   severity,
	}
	if raw.CPUUtil != nil {
		ev.CPUUtil = *raw.CPUUtil
		ev.HasCPUUtil = true
	}
	if raw.MemoryUtil != nil {
		ev.MemoryUtil = *raw.MemoryUtil
		ev.HasMemoryUtil = true
	}
	ev.Fingerprint = fingerprint(ev)

	metricValidationAccepted.Inc()
	return ev, nil
}

// asValidationError converts a validator error into the package error type,
// keeping only the first offending field.
func asValidationError(err error) *ValidationError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		return &ValidationError{
			Field:  jsonFieldName(first.Field()),
			Reason: fmt.Sprintf("failed %q constraint", first.Tag()),
		}
	}
	return &ValidationError{Field: "record", Reason: err.Error()}
}

// jsonFieldName maps Go struct field names to their wire names.
func jsonFieldName(field string) string {
	switch field {
	case "Component":
		return "component"
	case "LatencyP99":
		return "latency_p99"
	case "ErrorRate":
		return "error_rate"
	case "Throughput":
		return "throughput"
	case "CPUUtil":
		return "cpu_util"
	case "MemoryUtil":
		return "memory_util"
	case "Severity":
		return "severity"
	default:
		return field
	}
}
