package eligibility

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sosi/kosningakerfi/internal/domain"
	apperrors "github.com/sosi/kosningakerfi/internal/errors"
)

func registry(t *testing.T, calls *int32, respond func(w http.ResponseWriter, ssn string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "Bearer registry-token", r.Header.Get("Authorization"))

		var body struct {
			SSN string `json:"ssn"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		respond(w, body.SSN)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifyEligible(t *testing.T) {
	var calls int32
	srv := registry(t, &calls, func(w http.ResponseWriter, ssn string) {
		assert.Equal(t, "0101302989", ssn, "registry should receive digits only")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"valid":true,"eligible":true,"member_id":"m-42","member_name":"Jón Jónsson"}`))
	})

	c := NewClient(srv.URL, "registry-token")
	record, err := c.Verify(context.Background(), "010130-2989")
	require.NoError(t, err)

	assert.True(t, record.Valid)
	assert.True(t, record.Eligible)
	assert.Equal(t, "m-42", record.MemberID)
	assert.Equal(t, "Jón Jónsson", record.MemberName)
	assert.Equal(t, "0101302989", record.NationalID)

	v := Assess(record, nil)
	assert.Equal(t, OutcomeEligible, v.Outcome)
	assert.Equal(t, "Jón Jónsson", v.MemberName)
	assert.False(t, v.Retry)
}

func TestVerifyMalformedInputSkipsRegistry(t *testing.T) {
	var calls int32
	srv := registry(t, &calls, func(w http.ResponseWriter, ssn string) {
		t.Error("registry should not be called")
	})

	c := NewClient(srv.URL, "registry-token")
	for _, input := range []string{"", "12345", "320130-2989", "011330-2989"} {
		record, err := c.Verify(context.Background(), input)
		require.NoError(t, err)
		assert.False(t, record.Valid, "input %q", input)
		assert.Equal(t, OutcomeInvalid, Assess(record, nil).Outcome)
	}
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestVerifyOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		want     Outcome
		wantCode string
	}{
		{name: "ineligible", body: `{"valid":true,"eligible":false}`, status: 200, want: OutcomeIneligible},
		{name: "invalid", body: `{"valid":false,"eligible":false}`, status: 200, want: OutcomeInvalid},
		{name: "server error", body: `registry down`, status: 503, want: OutcomeUnreachable, wantCode: apperrors.CodeUpstreamStatus},
		{name: "garbage", body: `not json`, status: 200, want: OutcomeUnreachable, wantCode: apperrors.CodeMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := registry(t, &calls, func(w http.ResponseWriter, ssn string) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			record, err := NewClient(srv.URL, "registry-token").Verify(context.Background(), "0101302989")
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.True(t, apperrors.IsCode(err, tt.wantCode), "got %v", err)
			} else {
				require.NoError(t, err)
			}

			v := Assess(record, err)
			assert.Equal(t, tt.want, v.Outcome)
			assert.Equal(t, tt.want == OutcomeUnreachable, v.Retry)
			assert.NotEmpty(t, v.Message)
		})
	}
}

func TestVerifyTimeoutIsDistinctFromStatus(t *testing.T) {
	var calls int32
	srv := registry(t, &calls, func(w http.ResponseWriter, ssn string) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"valid":true,"eligible":true}`))
	})

	c := NewClient(srv.URL, "registry-token", WithTimeout(50*time.Millisecond))
	_, err := c.Verify(context.Background(), "0101302989")
	require.Error(t, err)

	assert.True(t, apperrors.IsCode(err, apperrors.CodeTimeout), "got %v", err)
	assert.False(t, apperrors.IsCode(err, apperrors.CodeUpstreamStatus))
	assert.Equal(t, OutcomeUnreachable, Assess(nil, err).Outcome)
}

func TestAssessNilRecord(t *testing.T) {
	v := Assess(nil, errors.New("boom"))
	assert.Equal(t, OutcomeUnreachable, v.Outcome)
	assert.True(t, v.Retry)

	v = Assess(&domain.EligibilityRecord{Valid: true, Eligible: true}, nil)
	assert.Equal(t, OutcomeEligible, v.Outcome)
}
