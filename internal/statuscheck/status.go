// Package statuscheck reports the readiness of the services a batching pass
// depends on.
package statuscheck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/local/pdfbatcher/internal/converter"
)

// Pinger models the minimal capability we need for status checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker aggregates health checks for external dependencies.
type Checker struct {
	redis          Pinger
	storage        Pinger
	convertEnabled bool
	lookup         func() (string, error)
	mupdfCheck     func() error
}

// Options configures the Checker.
type Options struct {
	Redis Pinger
	// Storage is nil when publishing is disabled.
	Storage        Pinger
	ConvertEnabled bool
	// LookupConverter and MuPDFCheck default to the real checks.
	LookupConverter func() (string, error)
	MuPDFCheck      func() error
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis       Status `json:"redis"`
	S3          Status `json:"s3"`
	LibreOffice Status `json:"libreoffice"`
	MuPDF       Status `json:"mupdf"`
}

// Healthy reports whether every required subsystem is up. Optional ones
// (S3 when not configured, LibreOffice when conversion is off) are skipped
// by their checks returning OK.
func (s Summary) Healthy() bool {
	return s.Redis.OK && s.S3.OK && s.LibreOffice.OK && s.MuPDF.OK
}

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	c := &Checker{
		redis:          opts.Redis,
		storage:        opts.Storage,
		convertEnabled: opts.ConvertEnabled,
		lookup:         opts.LookupConverter,
		mupdfCheck:     opts.MuPDFCheck,
	}
	if c.lookup == nil {
		c.lookup = converter.Lookup
	}
	if c.mupdfCheck == nil {
		c.mupdfCheck = checkMuPDF
	}
	return c
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:       c.checkRedis(ctx),
		S3:          c.checkS3(ctx),
		LibreOffice: c.checkLibreOffice(),
		MuPDF:       c.checkMuPDF(),
	}
}

// Handler serves the summary as JSON, 503 when something required is down.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := c.Summary(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !s.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(s)
	})
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: false, Message: "client unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkS3(ctx context.Context) Status {
	if c.storage == nil {
		return Status{OK: true, Message: "Publishing disabled"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.storage.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkLibreOffice() Status {
	if !c.convertEnabled {
		return Status{OK: true, Message: "Conversion disabled"}
	}
	if _, err := c.lookup(); err != nil {
		return Status{OK: false, Message: "Binary not found"}
	}
	return Status{OK: true, Message: "Available"}
}

func (c *Checker) checkMuPDF() Status {
	if err := c.mupdfCheck(); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Available"}
}

// buildCheckPDF imports a small white image as a one-page document.
func buildCheckPDF() ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var page bytes.Buffer
	if err := png.Encode(&page, img); err != nil {
		return nil, err
	}
	imp := pdfcpu.DefaultImportConfig()
	imp.Pos = types.Full
	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, []io.Reader{&page}, imp, nil); err != nil {
		return nil, fmt.Errorf("build check document: %w", err)
	}
	return out.Bytes(), nil
}

func checkMuPDF() error {
	body, err := buildCheckPDF()
	if err != nil {
		return err
	}
	doc, err := fitz.NewFromMemory(body)
	if err != nil {
		return err
	}
	defer doc.Close()
	if doc.NumPage() != 1 {
		return errors.New("unexpected page count")
	}
	return nil
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
