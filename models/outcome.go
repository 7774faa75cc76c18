package models

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// FetchRequest describes one GET against the target site. It is not modified
// after NewFetchRequest returns; Headers returns a copy.
type FetchRequest struct {
	url           string
	headers       map[string]string
	correlationID string
}

// NewFetchRequest builds a request with a fresh correlation id.
func NewFetchRequest(url string, headers map[string]string) *FetchRequest {
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return &FetchRequest{
		url:           url,
		headers:       h,
		correlationID: uuid.NewString(),
	}
}

func (r *FetchRequest) URL() string           { return r.url }
func (r *FetchRequest) CorrelationID() string { return r.correlationID }

// Headers returns a copy of the header overrides.
func (r *FetchRequest) Headers() map[string]string {
	h := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		h[k] = v
	}
	return h
}

// OutcomeKind tags a fetch outcome.
type OutcomeKind int

const (
	KindSuccess OutcomeKind = iota
	KindBlocked
	KindTransient
	KindGateway
	KindPermanent
	KindEmptyContent
	KindSolverFailure
	KindRotationTimeout
)

var kindNames = map[OutcomeKind]string{
	KindSuccess:         "success",
	KindBlocked:         "blocked",
	KindTransient:       "transient_error",
	KindGateway:         "gateway_error",
	KindPermanent:       "permanent_error",
	KindEmptyContent:    "empty_content",
	KindSolverFailure:   "solver_failure",
	KindRotationTimeout: "rotation_timeout",
}

func (k OutcomeKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Outcome is the result of a fetch. Exactly one kind is set; HTML and
// FinalURL are only populated for KindSuccess.
type Outcome struct {
	kind       OutcomeKind
	html       string
	finalURL   string
	statusCode int
	cause      error
}

// Success builds a successful outcome carrying the document.
func Success(html, finalURL string) Outcome {
	return Outcome{kind: KindSuccess, html: html, finalURL: finalURL, statusCode: http.StatusOK}
}

// Blocked builds a blocked outcome. statusCode may be 200 for challenge pages.
func Blocked(statusCode int) Outcome {
	return Outcome{kind: KindBlocked, statusCode: statusCode}
}

// TransientError builds a network-level failure outcome.
func TransientError(cause error) Outcome {
	return Outcome{kind: KindTransient, cause: cause}
}

// GatewayError builds an edge/origin instability outcome.
func GatewayError(code int) Outcome {
	return Outcome{kind: KindGateway, statusCode: code}
}

// PermanentError builds a non-retryable outcome.
func PermanentError(code int) Outcome {
	return Outcome{kind: KindPermanent, statusCode: code}
}

// EmptyContent builds an outcome for a suspiciously short body.
func EmptyContent(statusCode int) Outcome {
	return Outcome{kind: KindEmptyContent, statusCode: statusCode}
}

// SolverFailure builds the outcome for a challenge solve that never adopted a session.
func SolverFailure() Outcome {
	return Outcome{kind: KindSolverFailure}
}

// RotationTimeout builds the outcome for an identity rotation that never recovered.
func RotationTimeout() Outcome {
	return Outcome{kind: KindRotationTimeout}
}

func (o Outcome) Kind() OutcomeKind { return o.kind }
func (o Outcome) OK() bool          { return o.kind == KindSuccess }
func (o Outcome) HTML() string      { return o.html }
func (o Outcome) FinalURL() string  { return o.finalURL }
func (o Outcome) StatusCode() int   { return o.statusCode }
func (o Outcome) Cause() error      { return o.cause }

func (o Outcome) String() string {
	switch {
	case o.cause != nil:
		return fmt.Sprintf("%s (%v)", o.kind, o.cause)
	case o.statusCode != 0:
		return fmt.Sprintf("%s (status %d)", o.kind, o.statusCode)
	default:
		return o.kind.String()
	}
}

// Err converts a failed outcome to a *FetchError. It returns nil on success.
func (o Outcome) Err() error {
	switch o.kind {
	case KindSuccess:
		return nil
	case KindBlocked:
		return NewFetchError(ErrCodeBlocked, fmt.Sprintf("blocked by target (status %d)", o.statusCode), nil)
	case KindTransient:
		return NewFetchError(ErrCodeTransient, "network failure", o.cause)
	case KindGateway:
		return NewFetchError(ErrCodeGateway, fmt.Sprintf("gateway error %d", o.statusCode), nil)
	case KindPermanent:
		return NewFetchError(ErrCodePermanent, fmt.Sprintf("permanent error %d", o.statusCode), nil)
	case KindEmptyContent:
		return NewFetchError(ErrCodeEmptyContent, "response body below minimum length", nil)
	case KindSolverFailure:
		return NewFetchError(ErrCodeSolverFailure, "challenge not solved before deadline", nil)
	case KindRotationTimeout:
		return NewFetchError(ErrCodeRotationTimeout, "identity rotation did not recover before deadline", nil)
	}
	return NewFetchError(ErrCodeInternal, "unknown outcome "+o.kind.String(), nil)
}
