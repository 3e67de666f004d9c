package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrNotInstalled is returned when no LibreOffice binary is on PATH.
var ErrNotInstalled = errors.New("libreoffice not found in PATH")

// binaries tried in order
var binaries = []string{"soffice", "libreoffice"}

// LibreOffice converts office documents to PDF with a headless soffice per call.
type LibreOffice struct {
	Binary  string
	Timeout time.Duration
}

// New locates the LibreOffice binary.
func New(timeout time.Duration) (*LibreOffice, error) {
	bin, err := Lookup()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 180 * time.Second // Default 3 minutes
	}
	return &LibreOffice{Binary: bin, Timeout: timeout}, nil
}

// Lookup returns the first LibreOffice binary found on PATH.
func Lookup() (string, error) {
	for _, b := range binaries {
		if p, err := exec.LookPath(b); err == nil {
			return p, nil
		}
	}
	return "", ErrNotInstalled
}

// Convert converts inputPath to PDF inside outDir and returns the PDF path.
func (l *LibreOffice) Convert(ctx context.Context, inputPath, outDir string) (string, error) {
	startTime := time.Now()

	if err := validateInput(inputPath); err != nil {
		return "", fmt.Errorf("input validation failed: %w", err)
	}

	// Create unique profile directory for this conversion
	profileDir := filepath.Join(os.TempDir(), fmt.Sprintf("libreoffice_profile_%s", uuid.New().String()))
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create profile directory: %w", err)
	}
	defer os.RemoveAll(profileDir)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx,
		l.Binary,
		fmt.Sprintf("-env:UserInstallation=file://%s", profileDir),
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outDir,
		inputPath,
	)
	log.Debug().Str("cmd", strings.Join(cmd.Args, " ")).Msg("LibreOffice command")

	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("conversion timeout after %v", l.Timeout)
		}
		return "", fmt.Errorf("conversion failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	output := ExpectedOutputPath(inputPath, outDir)
	if _, err := os.Stat(output); err != nil {
		return "", fmt.Errorf("output file not created: %w", err)
	}

	log.Info().Str("input", inputPath).Str("output", output).Dur("duration", time.Since(startTime)).Msg("conversion successful")
	return output, nil
}

// validateInput checks if the input file is readable
func validateInput(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("file not found: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file")
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty")
	}
	return nil
}

// ExpectedOutputPath is where LibreOffice writes the converted file.
func ExpectedOutputPath(inputPath, outputDir string) string {
	baseName := filepath.Base(inputPath)
	nameWithoutExt := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	return filepath.Join(outputDir, nameWithoutExt+".pdf")
}
