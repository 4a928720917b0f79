// Package eligibility asks the membership registry whether a national ID
// belongs to an eligible voter.
package eligibility

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sosi/kosningakerfi/internal/domain"
	apperrors "github.com/sosi/kosningakerfi/internal/errors"
	"github.com/sosi/kosningakerfi/internal/metrics"
	"github.com/sosi/kosningakerfi/internal/ssn"
	"github.com/sosi/kosningakerfi/internal/upstream"
)

// ServiceName labels registry calls in errors and metrics.
const ServiceName = "eligibility"

// Outcome is the three-way answer shown to a voter, plus success.
type Outcome string

const (
	OutcomeEligible    Outcome = "eligible"
	OutcomeIneligible  Outcome = "ineligible"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeUnreachable Outcome = "unreachable"
)

var messages = map[Outcome]string{
	OutcomeEligible:    "You are registered and eligible to vote.",
	OutcomeIneligible:  "This national ID is registered but not eligible to vote.",
	OutcomeInvalid:     "This national ID was not found in the membership registry.",
	OutcomeUnreachable: "The membership registry could not be reached. Please try again.",
}

// Verdict is what the voter is told about a check.
type Verdict struct {
	Outcome    Outcome `json:"outcome"`
	Message    string  `json:"message"`
	Retry      bool    `json:"retry"`
	MemberName string  `json:"member_name,omitempty"`
}

type request struct {
	SSN string `json:"ssn"`
}

// Client calls the registry's verification endpoint.
type Client struct {
	endpoint string
	token    string
	http     *upstream.Client
	logger   *slog.Logger
}

// Option configures the Client.
type Option func(*clientOptions)

type clientOptions struct {
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// WithTimeout bounds each registry call.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = l
	}
}

// NewClient creates a Client for the registry at endpoint, authenticating
// with the given bearer token.
func NewClient(endpoint, token string, opts ...Option) *Client {
	o := &clientOptions{timeout: upstream.DefaultTimeout}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	upOpts := []upstream.Option{upstream.WithTimeout(o.timeout)}
	if o.httpClient != nil {
		upOpts = append(upOpts, upstream.WithHTTPClient(o.httpClient))
	}

	return &Client{
		endpoint: endpoint,
		token:    token,
		http:     upstream.New(ServiceName, upOpts...),
		logger:   o.logger,
	}
}

// Verify looks up nationalID. Input that is not ten digits after
// normalization is answered as invalid without calling the registry.
func (c *Client) Verify(ctx context.Context, nationalID string) (*domain.EligibilityRecord, error) {
	normalized := ssn.Normalize(nationalID)
	if !ssn.Validate(normalized) {
		return &domain.EligibilityRecord{NationalID: normalized}, nil
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	var record domain.EligibilityRecord
	if err := c.http.PostJSON(ctx, c.endpoint, header, request{SSN: normalized}, &record); err != nil {
		c.logger.Warn("eligibility lookup failed",
			"code", apperrors.CodeOf(err),
			"error", err,
		)
		return nil, err
	}
	record.NationalID = normalized
	return &record, nil
}

// Assess turns a lookup result into a Verdict. Every error, whether a
// timeout, a transport failure, a non-2xx answer or an unreadable body,
// is reported as unreachable, which is the only outcome that offers a
// retry.
func Assess(record *domain.EligibilityRecord, err error) Verdict {
	var v Verdict
	switch {
	case err != nil || record == nil:
		v.Outcome = OutcomeUnreachable
		v.Retry = true
	case !record.Valid:
		v.Outcome = OutcomeInvalid
	case !record.Eligible:
		v.Outcome = OutcomeIneligible
	default:
		v.Outcome = OutcomeEligible
		v.MemberName = record.MemberName
	}
	v.Message = messages[v.Outcome]
	metrics.RecordEligibility(string(v.Outcome))
	return v
}
