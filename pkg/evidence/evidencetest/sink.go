// Package evidencetest provides an in-memory evidence sink for tests.
package evidencetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/entrhq/pageproof/pkg/evidence"
)

// Upload is one stored object.
type Upload struct {
	Folder string
	Data   []byte
	URL    string
}

// Sink records uploads in memory. When Err is set every upload fails with it
// wrapped in evidence.ErrUpload; FailFolders fails only the listed folders.
type Sink struct {
	mu sync.Mutex

	Err         error
	FailFolders map[string]bool

	uploads []Upload
}

var _ evidence.Sink = (*Sink)(nil)

func (s *Sink) Upload(ctx context.Context, data []byte, folder string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return "", fmt.Errorf("%w: %v", evidence.ErrUpload, s.Err)
	}
	if s.FailFolders[folder] {
		return "", fmt.Errorf("%w: folder %s unavailable", evidence.ErrUpload, folder)
	}

	url := fmt.Sprintf("https://evidence.test/%s/%d", folder, len(s.uploads)+1)
	s.uploads = append(s.uploads, Upload{Folder: folder, Data: append([]byte(nil), data...), URL: url})
	return url, nil
}

// Uploads returns every successful upload in order.
func (s *Sink) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// In returns the uploads stored in folder.
func (s *Sink) In(folder string) []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Upload
	for _, u := range s.uploads {
		if u.Folder == folder {
			out = append(out, u)
		}
	}
	return out
}
