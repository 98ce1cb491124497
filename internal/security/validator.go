// Package security checks externally derived statement parameters before they
// reach the store.
package security

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxInputSize    = 1 << 20
	DefaultMaxStringLength = 64 << 10
	DefaultMaxParams       = 256
)

type Config struct {
	// MaxInputSize bounds []byte parameters and the summed size of all parameters.
	MaxInputSize int
	// MaxStringLength bounds each string parameter in bytes.
	MaxStringLength int
	MaxParams       int
}

func DefaultConfig() Config {
	return Config{
		MaxInputSize:    DefaultMaxInputSize,
		MaxStringLength: DefaultMaxStringLength,
		MaxParams:       DefaultMaxParams,
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxInputSize <= 0 {
		cfg.MaxInputSize = def.MaxInputSize
	}
	if cfg.MaxStringLength <= 0 {
		cfg.MaxStringLength = def.MaxStringLength
	}
	if cfg.MaxParams <= 0 {
		cfg.MaxParams = def.MaxParams
	}
	return cfg
}

// Result carries either sanitized parameters or the list of violations.
type Result struct {
	Sanitized  []any
	Violations []string
}

func (r Result) Valid() bool {
	return len(r.Violations) == 0
}

func (r Result) Error() string {
	return strings.Join(r.Violations, "; ")
}

// Validator is stateless apart from its limits and is safe for concurrent use.
type Validator struct {
	cfg Config
}

func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: normalizeConfig(cfg)}
}

func (v *Validator) Config() Config {
	return v.cfg
}

// Validate checks a statement template and its positional parameters.
// Well-formed parameters are returned unchanged; strings holding invalid
// UTF-8 are normalized with the replacement rune.
func (v *Validator) Validate(query string, params []any) Result {
	var violations []string
	violations = append(violations, checkTemplate(query, len(params))...)
	if len(params) > v.cfg.MaxParams {
		violations = append(violations, fmt.Sprintf("too many parameters: %d > %d", len(params), v.cfg.MaxParams))
	}

	sanitized := make([]any, len(params))
	total := 0
	for i, param := range params {
		value, size, problems := v.checkParam(param)
		for _, problem := range problems {
			violations = append(violations, fmt.Sprintf("param %d: %s", i, problem))
		}
		sanitized[i] = value
		total += size
	}
	if total > v.cfg.MaxInputSize {
		violations = append(violations, fmt.Sprintf("total input size %d exceeds %d", total, v.cfg.MaxInputSize))
	}

	if len(violations) > 0 {
		return Result{Violations: violations}
	}
	return Result{Sanitized: sanitized}
}

func (v *Validator) checkParam(param any) (any, int, []string) {
	switch value := param.(type) {
	case nil:
		return nil, 0, nil
	case string:
		return v.checkString(value)
	case []byte:
		if len(value) > v.cfg.MaxInputSize {
			return nil, len(value), []string{fmt.Sprintf("blob size %d exceeds %d", len(value), v.cfg.MaxInputSize)}
		}
		return value, len(value), nil
	case float64:
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, 8, []string{"non-finite float"}
		}
		return value, 8, nil
	case float32:
		if math.IsNaN(float64(value)) || math.IsInf(float64(value), 0) {
			return nil, 4, []string{"non-finite float"}
		}
		return value, 4, nil
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return value, 8, nil
	case uint, uint64:
		return nil, 8, []string{"unsigned 64-bit integers are not supported"}
	case bool:
		return value, 1, nil
	default:
		return nil, 0, []string{fmt.Sprintf("unsupported parameter type %T", param)}
	}
}

func (v *Validator) checkString(value string) (any, int, []string) {
	var problems []string
	if len(value) > v.cfg.MaxStringLength {
		problems = append(problems, fmt.Sprintf("string length %d exceeds %d", len(value), v.cfg.MaxStringLength))
	}
	if !utf8.ValidString(value) {
		value = strings.ToValidUTF8(value, string(utf8.RuneError))
	}
	for _, r := range value {
		if isDisallowedControl(r) {
			problems = append(problems, fmt.Sprintf("disallowed control character %U", r))
			break
		}
	}
	if len(problems) > 0 {
		return nil, len(value), problems
	}
	return value, len(value), nil
}

// Tab, newline and carriage return are allowed; other C0 controls, DEL and
// C1 controls are not.
func isDisallowedControl(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return false
	}
	return r < 0x20 || r == 0x7f || (r >= 0x80 && r <= 0x9f)
}

func checkTemplate(query string, paramCount int) []string {
	if strings.TrimSpace(query) == "" {
		return []string{"empty statement template"}
	}

	var violations []string
	placeholders := 0
	inSingle, inDouble := false, false
	trimmed := strings.TrimRight(strings.TrimSpace(query), ";")
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case inSingle || inDouble:
		case c == '?':
			placeholders++
		case c == ';':
			violations = append(violations, "multiple statements in template")
		case c == '-' && i+1 < len(trimmed) && trimmed[i+1] == '-':
			violations = append(violations, "comment sequence in template")
		case c == '/' && i+1 < len(trimmed) && trimmed[i+1] == '*':
			violations = append(violations, "comment sequence in template")
		}
	}
	if inSingle || inDouble {
		violations = append(violations, "unterminated quote in template")
	}
	if placeholders != paramCount {
		violations = append(violations, fmt.Sprintf("placeholder count %d does not match parameter count %d", placeholders, paramCount))
	}
	return violations
}
