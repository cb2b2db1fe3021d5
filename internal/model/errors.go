package model

import (
	"errors"
	"fmt"
)

// Error kinds, matching the pipeline failure taxonomy. ErrConfiguration is
// fatal and aborts before any run starts; the stage-local kinds feed the
// scheduler's retry policy; ErrUpstreamFailure is synthetic and never retried.
var (
	ErrConfiguration         = errors.New("configuration error")
	ErrDataQuality           = errors.New("data quality error")
	ErrInsufficientData      = errors.New("insufficient data")
	ErrEnrichmentUnavailable = errors.New("enrichment unavailable")
	ErrUpstreamFailure       = errors.New("upstream failure")
)

// PipelineError wraps a failure with its taxonomy kind.
type PipelineError struct {
	Kind error
	Msg  string
}

func (e *PipelineError) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *PipelineError) Unwrap() error { return e.Kind }

func ConfigErrorf(format string, args ...any) error {
	return &PipelineError{Kind: ErrConfiguration, Msg: fmt.Sprintf(format, args...)}
}

func DataQualityErrorf(format string, args ...any) error {
	return &PipelineError{Kind: ErrDataQuality, Msg: fmt.Sprintf(format, args...)}
}

func InsufficientDataErrorf(format string, args ...any) error {
	return &PipelineError{Kind: ErrInsufficientData, Msg: fmt.Sprintf(format, args...)}
}

func EnrichmentErrorf(format string, args ...any) error {
	return &PipelineError{Kind: ErrEnrichmentUnavailable, Msg: fmt.Sprintf(format, args...)}
}

// ErrorClass maps an error to the class name recorded in the run ledger.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "ConfigurationError"
	case errors.Is(err, ErrDataQuality):
		return "DataQualityError"
	case errors.Is(err, ErrInsufficientData):
		return "InsufficientDataError"
	case errors.Is(err, ErrEnrichmentUnavailable):
		return "EnrichmentUnavailableError"
	case errors.Is(err, ErrUpstreamFailure):
		return "UpstreamFailure"
	default:
		return "StageFailure"
	}
}
