// Package document opens, splits and joins PDF files with pdfcpu.
package document

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfbatcher/internal/filetype"
)

// ErrNeedsConversion is returned for office inputs when no converter is configured.
var ErrNeedsConversion = errors.New("input needs conversion to PDF")

// Document is an opened PDF ready for batching.
type Document struct {
	// Path is the local file the PDF operations read.
	Path string
	// Pages is the page count at open time.
	Pages int
	// Temp marks files the service created (downloads, conversions,
	// intermediates); Close removes them.
	Temp bool
	// Source is the reference the document was opened from.
	Source string
}

// ObjectFetcher downloads s3://bucket/key references.
type ObjectFetcher interface {
	DownloadTo(ctx context.Context, bucket, key, dst string) error
}

// Converter turns office documents into PDF.
type Converter interface {
	Convert(ctx context.Context, inputPath, outDir string) (string, error)
}

// Service is the document service used by a batching pass.
type Service struct {
	WorkDir   string
	HTTP      *http.Client
	S3        ObjectFetcher
	Converter Converter
}

// NewService returns a service writing temporary files under workDir.
func NewService(workDir string) *Service {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Service{WorkDir: workDir, HTTP: http.DefaultClient}
}

// Open resolves ref to a local PDF and counts its pages.
// Supports:
// - file://path or absolute/relative filesystem paths
// - http(s):// URLs (downloads to temp)
// - s3://bucket/key (downloads to temp through the configured fetcher)
func (s *Service) Open(ctx context.Context, ref string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	localPath, temp, err := s.fetch(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}
	doc := &Document{Path: localPath, Temp: temp, Source: ref}

	info, err := filetype.Detect(localPath)
	if err != nil {
		s.Close(doc)
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}
	if info.NeedsConv {
		if err := s.convert(ctx, doc, info); err != nil {
			s.Close(doc)
			return nil, fmt.Errorf("open %s: %w", ref, err)
		}
	}

	n, err := api.PageCountFile(doc.Path)
	if err != nil {
		s.Close(doc)
		return nil, fmt.Errorf("pdf page count failed for %s: %w", ref, err)
	}
	doc.Pages = n

	log.Debug().Str("source", ref).Str("path", doc.Path).Int("pages", n).Bool("temp", doc.Temp).Msg("opened document")
	return doc, nil
}

func (s *Service) convert(ctx context.Context, doc *Document, info *filetype.Info) error {
	if s.Converter == nil {
		return fmt.Errorf("%w: %s", ErrNeedsConversion, info.Description)
	}
	outDir, err := os.MkdirTemp(s.WorkDir, "pdfconv-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(outDir)

	converted, err := s.Converter.Convert(ctx, doc.Path, outDir)
	if err != nil {
		return fmt.Errorf("convert %s: %w", info.Description, err)
	}

	f, err := os.CreateTemp(s.WorkDir, "pdfconv-*.pdf")
	if err != nil {
		return err
	}
	f.Close()
	if err := os.Rename(converted, f.Name()); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("move converted file: %w", err)
	}

	// the pre-conversion download is no longer needed
	s.Close(doc)
	doc.Path = f.Name()
	doc.Temp = true
	return nil
}

// ExtractRange writes pages start..end (inclusive, 1-based) of doc to outPath.
func (s *Service) ExtractRange(ctx context.Context, doc *Document, start, end int, outPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if start < 1 || end < start || end > doc.Pages {
		return fmt.Errorf("range %d-%d outside 1..%d", start, end, doc.Pages)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	sel := []string{fmt.Sprintf("%d-%d", start, end)}
	if err := api.TrimFile(doc.Path, outPath, sel, nil); err != nil {
		return fmt.Errorf("extract pages %d-%d: %w", start, end, err)
	}
	return nil
}

// Concatenate merges docs, in order, into outPath and opens the result as a
// temporary document.
func (s *Service) Concatenate(ctx context.Context, docs []*Document, outPath string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, errors.New("concatenate: no documents")
	}
	paths := make([]string, 0, len(docs))
	pages := 0
	for _, d := range docs {
		paths = append(paths, d.Path)
		pages += d.Pages
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := api.MergeCreateFile(paths, outPath, false, nil); err != nil {
		return nil, fmt.Errorf("merge %d documents: %w", len(docs), err)
	}

	n, err := api.PageCountFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("pdf page count failed for %s: %w", outPath, err)
	}
	if n != pages {
		log.Warn().Int("expected", pages).Int("actual", n).Str("path", outPath).Msg("merged page count differs from inputs")
	}
	return &Document{Path: outPath, Pages: n, Temp: true, Source: outPath}, nil
}

// Close removes the local copy of a temporary document. Inputs the caller
// owns are left alone.
func (s *Service) Close(doc *Document) error {
	if doc == nil || !doc.Temp {
		return nil
	}
	if err := os.Remove(doc.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// IsRemote reports whether ref is downloaded rather than read in place.
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "s3://") || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}
