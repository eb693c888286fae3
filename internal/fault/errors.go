package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnknownEnvironment     Kind = "unknown_environment"
	KindTemplateMissing        Kind = "template_missing"
	KindBackendUnavailable     Kind = "backend_unavailable"
	KindBackendTimeout         Kind = "backend_timeout"
	KindMalformedArtifact      Kind = "malformed_artifact"
	KindUndeclaredVariable     Kind = "undeclared_variable"
	KindMissingWeightParameter Kind = "missing_weight_parameter"
	KindNotASignalFunction     Kind = "not_a_signal_function"
	KindSynthesisExhausted     Kind = "synthesis_exhausted"
	KindConfigOutOfBounds      Kind = "config_out_of_bounds"
)

// Error is the single error type crossing package boundaries. Subject names
// the offending variable, weight, task, or stage when there is one.
type Error struct {
	Code       string `json:"code"`
	Kind       Kind   `json:"kind"`
	Subject    string `json:"subject,omitempty"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable,omitempty"`
	Underlying error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "rewardcraft error"
	}
	if e.Code == "" {
		return e.Message
	}
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Underlying
}

func CodeForKind(kind Kind) string {
	switch kind {
	case KindUnknownEnvironment:
		return "UNKNOWN_ENVIRONMENT"
	case KindTemplateMissing:
		return "TEMPLATE_MISSING"
	case KindBackendUnavailable:
		return "BACKEND_UNAVAILABLE"
	case KindBackendTimeout:
		return "BACKEND_TIMEOUT"
	case KindMalformedArtifact:
		return "MALFORMED_ARTIFACT"
	case KindUndeclaredVariable:
		return "UNDECLARED_VARIABLE"
	case KindMissingWeightParameter:
		return "MISSING_WEIGHT_PARAMETER"
	case KindNotASignalFunction:
		return "NOT_A_SIGNAL_FUNCTION"
	case KindSynthesisExhausted:
		return "SYNTHESIS_EXHAUSTED"
	case KindConfigOutOfBounds:
		return "CONFIG_OUT_OF_BOUNDS"
	default:
		return "INTERNAL"
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Code: CodeForKind(kind), Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return New(kind, message)
	}
	return &Error{Code: CodeForKind(kind), Kind: kind, Message: message, Underlying: err}
}

func (e *Error) WithSubject(subject string) *Error {
	e.Subject = subject
	return e
}

func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

func As(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf returns the kind of the outermost fault in err's chain.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsValidation reports whether err is a violation the repair loop can correct
// by re-prompting.
func IsValidation(err error) bool {
	switch KindOf(err) {
	case KindMalformedArtifact, KindUndeclaredVariable, KindMissingWeightParameter, KindNotASignalFunction:
		return true
	default:
		return false
	}
}

func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Retryable
}

func UnknownEnvironment(id string) *Error {
	return Newf(KindUnknownEnvironment, "environment %q is not registered", id).WithSubject(id)
}

func TemplateMissing(stage string) *Error {
	return Newf(KindTemplateMissing, "no template for stage %q", stage).WithSubject(stage)
}

func UndeclaredVariable(name string) *Error {
	return Newf(KindUndeclaredVariable, "variable %q is not declared by the environment", name).WithSubject(name)
}

func Malformed(format string, args ...any) *Error {
	return Newf(KindMalformedArtifact, format, args...)
}

func MissingWeight(subject, format string, args ...any) *Error {
	return Newf(KindMissingWeightParameter, format, args...).WithSubject(subject)
}

func NotSignal(format string, args ...any) *Error {
	return Newf(KindNotASignalFunction, format, args...)
}

func Exhausted(stage string, attempts int, last error) *Error {
	return Wrap(KindSynthesisExhausted, fmt.Sprintf("%s: no valid response after %d attempts", stage, attempts), last).WithSubject(stage)
}

func OutOfBounds(variable string, value, min, max float64) *Error {
	return Newf(KindConfigOutOfBounds, "%s=%g outside [%g, %g]", variable, value, min, max).WithSubject(variable)
}
