package converter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpectedOutputPath(t *testing.T) {
	tests := []struct {
		in, dir, want string
	}{
		{"/in/report.docx", "/out", "/out/report.pdf"},
		{"slides.final.pptx", "tmp", "tmp/slides.final.pdf"},
		{"/in/noext", "/out", "/out/noext.pdf"},
	}
	for _, tt := range tests {
		assert.Equal(t, filepath.FromSlash(tt.want), ExpectedOutputPath(tt.in, tt.dir))
	}
}

func TestConvert_RejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.docx")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	l := &LibreOffice{Binary: "soffice-not-called"}
	ctx := context.Background()

	_, err := l.Convert(ctx, empty, dir)
	assert.ErrorContains(t, err, "file is empty")

	_, err = l.Convert(ctx, filepath.Join(dir, "missing.docx"), dir)
	assert.ErrorContains(t, err, "file not found")

	_, err = l.Convert(ctx, dir, dir)
	assert.ErrorContains(t, err, "directory")
}
