package backend

import (
	"mime"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

const octetStream = "application/octet-stream"

// DetectContentType sniffs body and falls back to the extension of name when
// the content is not recognised.
func DetectContentType(body []byte, name string) string {
	mt := mimetype.Detect(body)
	if !mt.Is(octetStream) {
		return mt.String()
	}
	if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
		return byExt
	}
	return octetStream
}
