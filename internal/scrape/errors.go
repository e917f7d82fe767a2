package scrape

import (
	"context"
	"errors"
)

// ErrorCode classifies a failure so callers can branch without string matching.
type ErrorCode string

// Failure codes surfaced on Result and Job.
const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeAntiBotDetected   ErrorCode = "ANTI_BOT_DETECTED"
	CodeCaptchaUnsolvable ErrorCode = "CAPTCHA_UNSOLVABLE"
	CodeRobotsDisallowed  ErrorCode = "ROBOTS_DISALLOWED"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeNavigation        ErrorCode = "NAVIGATION_FAILED"
	CodeExtraction        ErrorCode = "EXTRACTION_FAILED"
	CodeSoftFailure       ErrorCode = "EMPTY_CONTENT"
	CodeLLM               ErrorCode = "LLM_FAILED"
	CodeNoStrategy        ErrorCode = "NO_STRATEGY"
)

// Sentinel errors. Admission errors are returned synchronously and never retried.
var (
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrRateLimited       = errors.New("rate limited")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already active")
	ErrAntiBotDetected   = errors.New("anti-bot page detected")
	ErrCaptchaUnsolvable = errors.New("captcha required but unsolvable")
	ErrRobotsDisallowed  = errors.New("disallowed by robots.txt")
	ErrJobTimeout        = errors.New("job exceeded its time budget")
	ErrNavigation        = errors.New("navigation failed")
	ErrExtraction        = errors.New("extraction failed")
	ErrSoftFailure       = errors.New("page content suspiciously empty")
	ErrLLM               = errors.New("llm extraction failed")
	ErrNoStrategy        = errors.New("no strategy can handle url")
	ErrCacheMiss         = errors.New("cache miss")
)

var codeSentinels = map[ErrorCode]error{
	CodeAntiBotDetected:   ErrAntiBotDetected,
	CodeCaptchaUnsolvable: ErrCaptchaUnsolvable,
	CodeRobotsDisallowed:  ErrRobotsDisallowed,
	CodeTimeout:           ErrJobTimeout,
	CodeNavigation:        ErrNavigation,
	CodeExtraction:        ErrExtraction,
	CodeSoftFailure:       ErrSoftFailure,
	CodeLLM:               ErrLLM,
	CodeNoStrategy:        ErrNoStrategy,
}

// CodeFor maps an error chain onto its failure code.
func CodeFor(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	for code, sentinel := range codeSentinels {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}

type codeError struct {
	code ErrorCode
	msg  string
}

func (e codeError) Error() string {
	if e.msg == "" {
		return string(e.code)
	}
	return e.msg
}

func (e codeError) Is(target error) bool {
	sentinel, ok := codeSentinels[e.code]
	return ok && sentinel == target
}
