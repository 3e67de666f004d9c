package filetype

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// MIMEPDF is the only type the batcher reads directly.
const MIMEPDF = "application/pdf"

// ErrUnsupported is returned for inputs that are neither PDF nor convertible.
var ErrUnsupported = errors.New("unsupported input type")

// Info contains detected file type information
type Info struct {
	MIMEType    string
	Extension   string
	NeedsConv   bool
	Description string
}

// IsPDF reports whether the file can be batched as-is.
func (i *Info) IsPDF() bool { return i.MIMEType == MIMEPDF }

// office formats LibreOffice can turn into PDF
var office = map[string]string{
	// OOXML
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "Microsoft Word document",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "Microsoft PowerPoint presentation",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "Microsoft Excel spreadsheet",

	// legacy
	"application/msword":            "Microsoft Word document (legacy)",
	"application/vnd.ms-powerpoint": "Microsoft PowerPoint presentation (legacy)",
	"application/vnd.ms-excel":      "Microsoft Excel spreadsheet (legacy)",

	// OpenDocument
	"application/vnd.oasis.opendocument.text":         "OpenDocument text",
	"application/vnd.oasis.opendocument.presentation": "OpenDocument presentation",
	"application/vnd.oasis.opendocument.spreadsheet":  "OpenDocument spreadsheet",

	"application/rtf": "Rich Text Format",
}

// zip and OLE containers are resolved by extension
var containerExt = map[string]string{
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odt":  "application/vnd.oasis.opendocument.text",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".odp":  "application/vnd.oasis.opendocument.presentation",
	".doc":  "application/msword",
	".xls":  "application/vnd.ms-excel",
	".ppt":  "application/vnd.ms-powerpoint",
}

// Detect detects the actual file type using magic bytes, not filename.
// Unsupported inputs return Info together with ErrUnsupported.
func Detect(filePath string) (*Info, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}

	mimeType := mtype.String()
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	extension := mtype.Extension()

	log.Debug().Str("mime", mimeType).Str("ext", extension).Str("file", filePath).Msg("detected file type")

	if isContainer(mimeType) {
		ext := strings.ToLower(filepath.Ext(filePath))
		if override, ok := containerExt[ext]; ok {
			log.Debug().Str("original", mimeType).Str("override", override).Msg("overriding container detection based on extension")
			mimeType = override
			extension = ext
		}
	}

	info := &Info{MIMEType: mimeType, Extension: extension}
	switch {
	case mimeType == MIMEPDF:
		info.Description = "PDF document"
	case office[mimeType] != "":
		info.NeedsConv = true
		info.Description = office[mimeType]
	default:
		info.Description = fmt.Sprintf("Unsupported file type: %s", mimeType)
		return info, fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}
	return info, nil
}

func isContainer(mimeType string) bool {
	switch mimeType {
	case "application/zip", "application/x-zip-compressed", "application/x-ole-storage", "application/x-cfb":
		return true
	}
	return false
}
