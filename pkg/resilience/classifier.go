package resilience

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/NikhilSetiya/voxgate/pkg/errors"
)

// StatusCoder is implemented by transport errors that carry a remote status code
type StatusCoder interface {
	StatusCode() int
}

// Classification is the verdict for a single failure
type Classification struct {
	Code      errors.ErrorCode
	Retryable bool
}

func verdict(code errors.ErrorCode) Classification {
	return Classification{Code: code, Retryable: code.Retryable()}
}

// message patterns used when a failure carries no structured signal
var messagePatterns = []struct {
	needle string
	code   errors.ErrorCode
}{
	{"invalid api key", errors.CodeInvalidAPIKey},
	{"api key not valid", errors.CodeInvalidAPIKey},
	{"unauthorized", errors.CodeInvalidAPIKey},
	{"forbidden", errors.CodeInvalidAPIKey},
	{"payload too large", errors.CodePayloadTooLarge},
	{"request entity too large", errors.CodePayloadTooLarge},
	{"too many requests", errors.CodeRateLimit},
	{"rate limit", errors.CodeRateLimit},
	{"quota", errors.CodeRateLimit},
	{"deadline exceeded", errors.CodeTimeout},
	{"timed out", errors.CodeTimeout},
	{"timeout", errors.CodeTimeout},
	{"connection refused", errors.CodeNetwork},
	{"connection reset", errors.CodeNetwork},
	{"no such host", errors.CodeNetwork},
	{"network is unreachable", errors.CodeNetwork},
	{"broken pipe", errors.CodeNetwork},
	{"internal server error", errors.CodeServer},
	{"service unavailable", errors.CodeServer},
	{"bad gateway", errors.CodeServer},
}

// Classify maps a raw failure to a taxonomy code and a retry verdict.
// It is pure: the same error always yields the same verdict.
func Classify(err error) Classification {
	if err == nil {
		return verdict(errors.CodeUnknown)
	}

	if appErr, ok := errors.AsAppError(err); ok {
		return verdict(appErr.Code)
	}

	var sc StatusCoder
	if stderrors.As(err, &sc) {
		if c, ok := classifyStatus(sc.StatusCode()); ok {
			return c
		}
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return verdict(errors.CodeTimeout)
	case stderrors.Is(err, context.Canceled):
		return verdict(errors.CodeCancelled)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &syntaxErr) || stderrors.As(err, &typeErr) {
		return verdict(errors.CodeParse)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return verdict(errors.CodeTimeout)
		}
		return verdict(errors.CodeNetwork)
	}

	if stderrors.Is(err, syscall.ECONNREFUSED) || stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, io.ErrUnexpectedEOF) || stderrors.Is(err, io.EOF) {
		return verdict(errors.CodeNetwork)
	}

	lower := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		if strings.Contains(lower, p.needle) {
			return verdict(p.code)
		}
	}

	return verdict(errors.CodeUnknown)
}

func classifyStatus(status int) (Classification, bool) {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return verdict(errors.CodeInvalidAPIKey), true
	case status == http.StatusRequestEntityTooLarge:
		return verdict(errors.CodePayloadTooLarge), true
	case status == http.StatusTooManyRequests:
		return verdict(errors.CodeRateLimit), true
	case status == http.StatusRequestTimeout:
		return verdict(errors.CodeTimeout), true
	case status >= 500 && status <= 599:
		return verdict(errors.CodeServer), true
	}
	return Classification{}, false
}

// ToAppError classifies err and returns it as an AppError, preserving any
// AppError already present in the chain.
func ToAppError(err error) *errors.AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr
	}
	c := Classify(err)
	return errors.NewAppError(c.Code, err.Error()).WithCause(err)
}
