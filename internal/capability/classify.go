package capability

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"syscall"

	"github.com/Harshitk-cp/agentd/internal/domain"
)

var (
	transientCodeRe = regexp.MustCompile(`\b(408|425|429|500|502|503|504)\b`)
	permanentCodeRe = regexp.MustCompile(`\b(400|401|402|403|404|405|409|410|413|415|422)\b`)

	transientPhrases = []string{
		"timeout", "timed out", "deadline exceeded", "rate limit", "too many requests",
		"temporarily unavailable", "service unavailable", "connection refused",
		"connection reset", "broken pipe", "unexpected eof", "no such host", "try again",
	}
	permanentPhrases = []string{
		"unauthorized", "forbidden", "invalid", "not found", "bad request",
		"validation", "permission denied", "unsupported",
	}
)

// Classify decides whether err is worth retrying. Typed errors win over
// status codes, which win over message heuristics.
func Classify(err error) domain.ErrorClass {
	if err == nil {
		return domain.ErrorClassNone
	}

	var ce *domain.CapabilityError
	if errors.As(err, &ce) && ce.Class != domain.ErrorClassNone {
		return ce.Class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorClassTransient
	}
	if errors.Is(err, context.Canceled) {
		return domain.ErrorClassUnknown
	}

	var sc domain.StatusCoder
	if errors.As(err, &sc) && sc.StatusCode() != 0 {
		return ClassifyStatus(sc.StatusCode())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.ErrorClassTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.ErrorClassTransient
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.ErrorClassTransient
	}

	return classifyMessage(err.Error())
}

// ClassifyStatus maps an HTTP-style status code onto an error class.
func ClassifyStatus(code int) domain.ErrorClass {
	switch {
	case code < 400:
		return domain.ErrorClassUnknown
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code == http.StatusTooEarly:
		return domain.ErrorClassTransient
	case code >= 500:
		if code == http.StatusNotImplemented || code == http.StatusHTTPVersionNotSupported {
			return domain.ErrorClassPermanent
		}
		return domain.ErrorClassTransient
	default:
		return domain.ErrorClassPermanent
	}
}

func classifyMessage(msg string) domain.ErrorClass {
	msg = strings.ToLower(msg)

	if transientCodeRe.MatchString(msg) {
		return domain.ErrorClassTransient
	}
	if permanentCodeRe.MatchString(msg) {
		return domain.ErrorClassPermanent
	}
	for _, p := range transientPhrases {
		if strings.Contains(msg, p) {
			return domain.ErrorClassTransient
		}
	}
	for _, p := range permanentPhrases {
		if strings.Contains(msg, p) {
			return domain.ErrorClassPermanent
		}
	}
	return domain.ErrorClassUnknown
}
