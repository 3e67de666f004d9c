package document

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoInputs is returned when no input reference survives expansion.
var ErrNoInputs = errors.New("no valid inputs")

// Inputs is the outcome of expanding an input argument.
type Inputs struct {
	Valid   []string
	Missing []string
}

// ExpandInputs turns the -i argument into input references.
//
// The argument is a comma separated list. A path containing '*' selects every
// PDF in the directory before the first '*', walking subdirectories when
// recursive is set. Local names without an extension get ".pdf". Local files
// that do not exist are reported in Missing; remote references are kept as-is.
func ExpandInputs(arg string, recursive bool) (Inputs, error) {
	var out Inputs
	for _, item := range strings.Split(arg, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if IsRemote(item) {
			out.Valid = append(out.Valid, item)
			continue
		}
		item = strings.TrimPrefix(item, "file://")

		if i := strings.IndexByte(item, '*'); i >= 0 {
			dir := item[:i]
			if dir == "" {
				dir = "."
			}
			found, err := findPDFs(dir, recursive)
			if err != nil {
				return out, err
			}
			out.Valid = append(out.Valid, found...)
			continue
		}

		if filepath.Ext(item) == "" {
			item += ".pdf"
		}
		if st, err := os.Stat(item); err != nil || st.IsDir() {
			out.Missing = append(out.Missing, item)
			continue
		}
		out.Valid = append(out.Valid, item)
	}
	if len(out.Valid) == 0 {
		return out, ErrNoInputs
	}
	return out, nil
}

func findPDFs(dir string, recursive bool) ([]string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".pdf") {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(found)
	return found, nil
}
