package capture

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/vbonduro/tileconsole/internal/backend"
)

var (
	ErrFaceIndex  = errors.New("face index out of range")
	ErrNotAnImage = errors.New("please upload a valid image file")
	ErrFaceCount  = errors.New("number of faces must be at least 1")
)

// allowedImageTypes is the set of MIME types accepted for face captures.
// WebP is detected separately because http.DetectContentType has no WebP
// signature.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// DetectImage returns the detected MIME type and true if data is an accepted
// image format.
func DetectImage(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

// Capture is one selected face image.
type Capture struct {
	Index    int    `json:"index"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// PreviewDataURL renders the capture as a data: URL for previews.
func (c Capture) PreviewDataURL() string {
	return "data:" + c.MimeType + ";base64," + base64.StdEncoding.EncodeToString(c.Data)
}

// Set is the sparse collection of face captures of one form, indexed 1..N.
type Set struct {
	mu        sync.Mutex
	faceCount int
	captures  map[int]Capture
}

func NewSet() *Set {
	return &Set{faceCount: 1, captures: map[int]Capture{}}
}

func (s *Set) FaceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faceCount
}

// SetFaceCount changes N. Captures above the new count are dropped.
func (s *Set) SetFaceCount(n int) error {
	if n < 1 {
		return ErrFaceCount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faceCount = n
	for idx := range s.captures {
		if idx > n {
			delete(s.captures, idx)
		}
	}
	return nil
}

// Put stores the capture for face index, replacing any previous one.
func (s *Set) Put(index int, fileName string, data []byte) (Capture, error) {
	mime, ok := DetectImage(data)
	if !ok {
		return Capture{}, ErrNotAnImage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 1 || index > s.faceCount {
		return Capture{}, fmt.Errorf("%w: %d not in 1..%d", ErrFaceIndex, index, s.faceCount)
	}
	if fileName == "" {
		fileName = fmt.Sprintf("face-%d%s", index, extFor(mime))
	}
	c := Capture{Index: index, FileName: fileName, MimeType: mime, Data: data}
	s.captures[index] = c
	return c, nil
}

func (s *Set) Remove(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.captures, index)
}

// Len is the number of captured faces.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.captures)
}

// Complete reports whether every index in 1..N has a capture.
func (s *Set) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 1; i <= s.faceCount; i++ {
		if _, ok := s.captures[i]; !ok {
			return false
		}
	}
	return true
}

// Missing returns the face indexes still without a capture.
func (s *Set) Missing() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []int
	for i := 1; i <= s.faceCount; i++ {
		if _, ok := s.captures[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// Captures returns the captures ordered by face index.
func (s *Set) Captures() []Capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Capture, 0, len(s.captures))
	for _, c := range s.captures {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Files returns the captures as upload parts, ordered by face index.
func (s *Set) Files() []backend.Upload {
	captures := s.Captures()
	files := make([]backend.Upload, 0, len(captures))
	for _, c := range captures {
		files = append(files, backend.Upload{FileName: c.FileName, ContentType: c.MimeType, Data: c.Data})
	}
	return files
}

// Reset empties the set and returns N to 1.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faceCount = 1
	s.captures = map[int]Capture{}
}

func extFor(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
