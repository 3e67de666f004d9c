package statuscheck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func okCheck() error { return nil }

func TestSummary_AllUp(t *testing.T) {
	c := New(Options{
		Redis:           pinger{},
		Storage:         pinger{},
		ConvertEnabled:  true,
		LookupConverter: func() (string, error) { return "/usr/bin/soffice", nil },
		MuPDFCheck:      okCheck,
	})

	s := c.Summary(context.Background())
	assert.True(t, s.Healthy())
	assert.Equal(t, "Connected", s.S3.Message)
}

func TestSummary_OptionalSubsystemsSkipped(t *testing.T) {
	c := New(Options{
		Redis:           pinger{},
		LookupConverter: func() (string, error) { return "", errors.New("missing") },
		MuPDFCheck:      okCheck,
	})

	s := c.Summary(context.Background())
	assert.True(t, s.Healthy())
	assert.Equal(t, "Publishing disabled", s.S3.Message)
	assert.Equal(t, "Conversion disabled", s.LibreOffice.Message)
}

func TestSummary_Failures(t *testing.T) {
	c := New(Options{
		Redis:           pinger{err: errors.New(strings.Repeat("x", 300))},
		ConvertEnabled:  true,
		LookupConverter: func() (string, error) { return "", errors.New("missing") },
		MuPDFCheck:      okCheck,
	})

	s := c.Summary(context.Background())
	assert.False(t, s.Healthy())
	assert.Len(t, s.Redis.Message, 120)
	assert.Equal(t, "Binary not found", s.LibreOffice.Message)
}

func TestHandler(t *testing.T) {
	c := New(Options{MuPDFCheck: okCheck})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/deps", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var s Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, "client unavailable", s.Redis.Message)
}

func TestCheckMuPDF(t *testing.T) {
	assert.NoError(t, checkMuPDF())
}

func TestBuildCheckPDF(t *testing.T) {
	b, err := buildCheckPDF()
	require.NoError(t, err)
	n, err := api.PageCount(bytes.NewReader(b), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
