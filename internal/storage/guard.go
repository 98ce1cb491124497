package storage

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"neuroswarm/internal/logging"
	"neuroswarm/internal/model"
	"neuroswarm/internal/security"
)

// guard runs parameter validation and latency accounting for a backend.
type guard struct {
	validator *security.Validator
	logger    *slog.Logger
	slow      time.Duration
}

func newGuard(opts Options, backend string) guard {
	return guard{
		validator: security.NewValidator(opts.Security),
		logger:    logging.Component(opts.Logger, "store").With("backend", backend),
		slow:      opts.SlowThreshold,
	}
}

// check validates the parameters of one statement and returns the
// sanitized list to bind.
func (g guard) check(op, query string, args ...any) ([]any, error) {
	result := g.validator.Validate(query, args)
	if !result.Valid() {
		g.logger.Warn("store parameters rejected", "op", op, "violations", result.Violations)
		return nil, fmt.Errorf("%w: %s: %s", model.ErrSecurityViolation, op, result.Error())
	}
	return result.Sanitized, nil
}

// checkValues validates parameters for backends without statement text.
func (g guard) checkValues(op string, args ...any) ([]any, error) {
	return g.check(op, "VALUES ("+placeholders(len(args))+")", args...)
}

func (g guard) observe(op string, start time.Time) {
	elapsed := time.Since(start)
	if elapsed > g.slow {
		g.logger.Warn("slow store operation", "op", op, "elapsed", elapsed, "budget", g.slow)
	}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
