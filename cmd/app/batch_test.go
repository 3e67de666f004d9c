package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdfbatcher/internal/batch"
	cfgpkg "github.com/local/pdfbatcher/internal/config"
	"github.com/local/pdfbatcher/internal/orchestrator"
)

func parse(t *testing.T, args ...string) (orchestrator.Job, error) {
	t.Helper()
	var stderr bytes.Buffer
	o, set, err := parseArgs(cfgpkg.FromEnv(), args, &stderr)
	require.NoError(t, err, stderr.String())
	return buildJob(o, set, []string{"in.pdf"})
}

func TestBuildJob_Modes(t *testing.T) {
	job, err := parse(t, "-o", "Out", "-bic", "3", "-t", "2.5")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ModeSimilarity, job.Mode)
	assert.Equal(t, 3, job.MasterPage)
	require.NotNil(t, job.Tolerance)
	assert.Equal(t, 2.5, *job.Tolerance)

	job, err = parse(t, "-o", "Out", "-bic", "1", "-t", "0")
	require.NoError(t, err)
	require.NotNil(t, job.Tolerance)
	assert.Zero(t, *job.Tolerance, "explicit zero is kept")

	job, err = parse(t, "--output", "Out", "--batch", "4", "--retainOriginal")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ModeFixed, job.Mode)
	assert.Equal(t, 4, job.BatchSize)
	assert.True(t, job.Retain)

	job, err = parse(t, "-o", "Out", "-bic", "2", "-b", "3")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ModeFixed, job.Mode, "-b wins over -bic")
	assert.Equal(t, 3, job.BatchSize)
	assert.Zero(t, job.MasterPage)

	job, err = parse(t, "-o", "Out")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ModeConcat, job.Mode)
	assert.NotEmpty(t, job.ID)
}

func TestBuildJob_Rejects(t *testing.T) {
	_, err := parse(t, "-o", "Out", "-b", "0")
	assert.ErrorIs(t, err, batch.ErrInvalidBatchSize)

	_, err = parse(t, "-o", "Out", "-bic", "0")
	assert.ErrorIs(t, err, batch.ErrPageOutOfRange)
}

func TestRunBatch_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runBatch(cfgpkg.FromEnv(), []string{"-i", "x.pdf"}, &stdout, &stderr)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "missing -o")
}

func TestRunBatch_MissingInputs(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := runBatch(cfgpkg.FromEnv(), []string{"-i", filepath.Join(dir, "nope"), "-o", filepath.Join(dir, "Out")}, &stdout, &stderr)
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, stderr.String(), "input not found: "+filepath.Join(dir, "nope.pdf"))
	_, err := os.Stat(filepath.Join(dir, "Out.pdf"))
	assert.True(t, os.IsNotExist(err))
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, &orchestrator.Report{
		Pages:   5,
		Written: []orchestrator.Result{{Index: 1, Batch: batch.Batch{Start: 1, End: 3}, Path: "Out_1-3.pdf"}},
		Failed:  []orchestrator.Result{{Index: 2, Batch: batch.Batch{Start: 4, End: 5}, Error: "boom"}},
	})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Out_1-3.pdf pages 1-3", lines[0])
	assert.Equal(t, "FAILED batch 2 pages 4-5: boom", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "5 pages, 1 batches written, 1 failed"))
}
