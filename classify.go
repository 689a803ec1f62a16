package chronos

import "strings"

// classifyPatterns is ordered case-insensitive substring matching on the
// error's message; the first match wins. This is deliberately a fragile
// mechanism — extend the table here, not with a typed error taxonomy,
// unless the error already comes from this package's own typed error
// values (see errors.go), which are classified directly.
var classifyPatterns = []struct {
	substr string
	code   ErrorCode
}{
	{"timeout", ErrTimeout},
	{"network", ErrNetwork},
	{"econnrefused", ErrNetwork},
	{"rate limit", ErrRateLimit},
	{"memory", ErrMemory},
	{"permission", ErrPermission},
	{"forbidden", ErrPermission},
	{"validation", ErrValidation},
	{"not found", ErrNotFound},
	{"handler", ErrHandler},
}

// ClassifyError maps an opaque handler error to one of the ErrorCode
// values. Typed errors produced by this package are classified directly
// rather than via their message text.
func ClassifyError(err error) ErrorCode {
	if err == nil {
		return ""
	}
	switch err.(type) {
	case *ValidationError:
		return ErrValidation
	case *NotFoundError:
		return ErrNotFound
	case *HandlerError:
		return ErrHandler
	}
	msg := strings.ToLower(err.Error())
	for _, p := range classifyPatterns {
		if strings.Contains(msg, p.substr) {
			return p.code
		}
	}
	return ErrUnknown
}

// nonRetryableSubstrs: any error whose message contains one of these is
// permanent regardless of retries remaining.
var nonRetryableSubstrs = []string{
	"validation",
	"invalid",
	"not found",
	"unauthorized",
	"forbidden",
	"no handler",
	"syntax error",
}

// IsRetryable reports whether a handler failure may be retried. Errors of
// type *HandlerError (missing taskType) are always non-retryable, checked
// by type before any substring matching — a HANDLER_ERROR sends the job
// straight to FAILED.
func IsRetryable(err error) bool {
	if err == nil {
		return true
	}
	if _, ok := err.(*HandlerError); ok {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range nonRetryableSubstrs {
		if strings.Contains(msg, s) {
			return false
		}
	}
	return true
}
