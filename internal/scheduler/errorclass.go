package scheduler

import (
	"errors"

	"dropwatch-go/internal/core"
)

// errorClass names the taxonomy bucket an error falls into, for the
// structured job-run log record's error_class field.
func errorClass(err error) string {
	if err == nil {
		return ""
	}
	var transient *core.TransientIOError
	var fatal *core.FatalIOError
	var parse *core.ParserError
	var baseline *core.MissingBaselineError
	var cancel *core.CancellationError
	var cfg *core.ConfigError
	switch {
	case errors.As(err, &transient):
		return "transient_io"
	case errors.As(err, &fatal):
		return "fatal_io"
	case errors.As(err, &parse):
		return "parser"
	case errors.As(err, &baseline):
		return "missing_baseline"
	case errors.As(err, &cancel):
		return "cancellation"
	case errors.As(err, &cfg):
		return "config"
	default:
		return "unknown"
	}
}
