// Package evidence stores captured screenshots and documents and hands back
// URLs they can be retrieved from.
package evidence

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrUpload wraps every failure to persist evidence. Callers must not
	// swallow it: a request whose evidence was lost fails as a whole.
	ErrUpload = errors.New("evidence upload failed")

	// ErrNotFound is returned when a stored object does not exist.
	ErrNotFound = errors.New("evidence not found")
)

// Folders used by the service
const (
	FolderCitations        = "citations"
	FolderDeployments      = "deployments"
	FolderVisualRegression = "visual-regression"
	FolderScreenshots      = "screenshots"
	FolderPDFs             = "pdfs"
	FolderInteractions     = "interactions"
)

// Sink persists a blob under a folder tag and returns a retrievable URL.
type Sink interface {
	Upload(ctx context.Context, data []byte, folder string) (string, error)
}

// extensionFor picks a file extension from the sniffed content type.
func extensionFor(data []byte) (ext, contentType string) {
	contentType = http.DetectContentType(data)
	switch contentType {
	case "image/png":
		return ".png", contentType
	case "image/jpeg":
		return ".jpg", contentType
	case "image/webp":
		return ".webp", contentType
	case "application/pdf":
		return ".pdf", contentType
	}
	return ".bin", contentType
}
