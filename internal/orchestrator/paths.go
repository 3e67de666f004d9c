package orchestrator

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/local/pdfbatcher/internal/document"
)

// confineJob rewrites the local inputs and the output of a submitted job to
// paths under root. Remote inputs are left alone. An empty root rejects every
// local path.
func confineJob(root string, job *Job) error {
	for i, ref := range job.Inputs {
		if document.IsRemote(ref) {
			continue
		}
		p, err := confinePath(root, ref)
		if err != nil {
			return err
		}
		job.Inputs[i] = p
	}
	p, err := confinePath(root, job.Output)
	if err != nil {
		return err
	}
	job.Output = p
	return nil
}

// confinePath resolves ref under root. Absolute paths and ".." are rejected
// lexically; the deepest existing ancestor must also resolve inside root once
// symlinks are followed, since missing directories get created on write.
func confinePath(root, ref string) (string, error) {
	if root == "" {
		return "", &ValidationError{Message: fmt.Sprintf("local path %q not allowed: no file root configured", ref)}
	}
	rel := filepath.FromSlash(strings.TrimPrefix(ref, "file://"))
	if !filepath.IsLocal(rel) {
		return "", &ValidationError{Message: fmt.Sprintf("path %q must be relative to the file root", ref)}
	}
	full := filepath.Join(root, rel)

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolve file root: %w", err)
	}
	check := full
	for {
		real, err := filepath.EvalSymlinks(check)
		if err == nil {
			r, rerr := filepath.Rel(realRoot, real)
			if rerr != nil || (r != "." && !filepath.IsLocal(r)) {
				return "", &ValidationError{Message: fmt.Sprintf("path %q resolves outside the file root", ref)}
			}
			return full, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(check)
		if parent == check {
			return full, nil
		}
		check = parent
	}
}
