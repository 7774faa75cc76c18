package engine

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/use-agent/lnfetch/models"
)

// Classifier maps an HTTP response to an Outcome. It holds no mutable state
// and is safe for concurrent use.
type Classifier struct {
	markers    []string
	minContent int
}

// NewClassifier builds a classifier. Markers are matched case-insensitively.
func NewClassifier(challengeMarkers []string, minContent int) *Classifier {
	return &Classifier{
		markers:    lowerAll(challengeMarkers),
		minContent: minContent,
	}
}

// Classify applies the response rules in priority order: blocked status,
// gateway status, 404 or 410 as permanent, any other 5xx as transient, short
// body, challenge marker.
// Transport failures never reach Classify; the caller maps them to
// TransientError.
func (c *Classifier) Classify(status int, body []byte, finalURL string) models.Outcome {
	switch {
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		return models.Blocked(status)
	case isGatewayStatus(status):
		return models.GatewayError(status)
	case status == http.StatusNotFound || status == http.StatusGone:
		return models.PermanentError(status)
	case status >= 500:
		return models.TransientError(fmt.Errorf("upstream status %d", status))
	}

	if len(body) < c.minContent {
		return models.EmptyContent(status)
	}
	if c.IsChallenge(body) {
		return models.Blocked(status)
	}
	return models.Success(string(body), finalURL)
}

// IsChallenge reports whether body contains any challenge marker.
func (c *Classifier) IsChallenge(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, m := range c.markers {
		if m != "" && bytes.Contains(lower, []byte(m)) {
			return true
		}
	}
	return false
}

func isGatewayStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, 520:
		return true
	}
	return false
}

// ContainsAny reports whether text contains any of markers, ignoring case.
func ContainsAny(text string, markers []string) bool {
	lower := strings.ToLower(text)
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}
