// Package evidence stages uploaded files per client until the incident report
// that carries them is submitted.
package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"wildwatch.app/internal/backend"
	"wildwatch.app/internal/ids"
	"wildwatch.app/internal/store"
)

const (
	DefaultMaxSize  = 10 << 20
	DefaultMaxFiles = 5
	DefaultTTL      = 24 * time.Hour

	lockStripes = 64
)

var (
	ErrNotFound    = errors.New("evidence: not found")
	ErrTooLarge    = errors.New("evidence: file too large")
	ErrTooMany     = errors.New("evidence: too many files")
	ErrEmpty       = errors.New("evidence: file is empty")
	ErrUnsupported = errors.New("evidence: unsupported content type")
)

// File is one staged upload. Data is omitted from listings.
type File struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	StagedAt    time.Time `json:"stagedAt"`
	Data        []byte    `json:"data,omitempty"`
}

// Ref converts the file into the shape the backend accepts.
func (f File) Ref() backend.EvidenceRef {
	return backend.EvidenceRef{FileName: f.FileName, ContentType: f.ContentType, Size: f.Size, Data: f.Data}
}

// Namespace is the store namespace holding a client's staged files.
func Namespace(clientID string) string { return "evidence:" + clientID }

type Stager struct {
	kv       store.KV
	ttl      time.Duration
	maxSize  int64
	maxFiles int
	now      func() time.Time

	// stripes serialize the count-then-write in Stage per client.
	stripes [lockStripes]sync.Mutex
}

func (s *Stager) lock(clientID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientID))
	mu := &s.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

type Option func(*Stager)

func WithLimits(maxSize int64, maxFiles int) Option {
	return func(s *Stager) {
		if maxSize > 0 {
			s.maxSize = maxSize
		}
		if maxFiles > 0 {
			s.maxFiles = maxFiles
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Stager) { s.ttl = ttl }
}

func NewStager(kv store.KV, opts ...Option) *Stager {
	s := &Stager{kv: kv, ttl: DefaultTTL, maxSize: DefaultMaxSize, maxFiles: DefaultMaxFiles, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxSize is the per-file limit in bytes.
func (s *Stager) MaxSize() int64 { return s.maxSize }

// Stage stores data under a new ULID. The content type is sniffed when the
// client did not send one.
func (s *Stager) Stage(ctx context.Context, clientID, fileName, contentType string, data []byte) (File, error) {
	if len(data) == 0 {
		return File{}, ErrEmpty
	}
	if int64(len(data)) > s.maxSize {
		return File{}, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), s.maxSize)
	}
	contentType = strings.TrimSpace(strings.ToLower(contentType))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !allowed(contentType) {
		return File{}, fmt.Errorf("%w: %s", ErrUnsupported, contentType)
	}
	defer s.lock(clientID)()
	keys, err := s.kv.Keys(ctx, Namespace(clientID))
	if err != nil {
		return File{}, err
	}
	if len(keys) >= s.maxFiles {
		return File{}, ErrTooMany
	}

	f := File{
		ID:          ids.New(),
		FileName:    cleanName(fileName),
		ContentType: contentType,
		Size:        int64(len(data)),
		StagedAt:    s.now().UTC(),
		Data:        data,
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return File{}, err
	}
	if err := s.kv.Set(ctx, Namespace(clientID), f.ID, raw, s.ttl); err != nil {
		return File{}, err
	}
	f.Data = nil
	return f, nil
}

// List returns the staged files in staging order, without contents.
func (s *Stager) List(ctx context.Context, clientID string) ([]File, error) {
	files, err := s.load(ctx, clientID)
	if err != nil {
		return nil, err
	}
	for i := range files {
		files[i].Data = nil
	}
	return files, nil
}

// Get returns one staged file with its contents.
func (s *Stager) Get(ctx context.Context, clientID, id string) (File, error) {
	if !ids.Valid(id) {
		return File{}, ErrNotFound
	}
	raw, ok, err := s.kv.Get(ctx, Namespace(clientID), id)
	if err != nil {
		return File{}, err
	}
	if !ok {
		return File{}, ErrNotFound
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return File{}, err
	}
	return f, nil
}

// Discard removes one staged file.
func (s *Stager) Discard(ctx context.Context, clientID, id string) error {
	if _, err := s.Get(ctx, clientID, id); err != nil {
		return err
	}
	return s.kv.Delete(ctx, Namespace(clientID), id)
}

// Attachments returns every staged file as backend evidence, oldest first.
func (s *Stager) Attachments(ctx context.Context, clientID string) ([]backend.EvidenceRef, error) {
	files, err := s.load(ctx, clientID)
	if err != nil {
		return nil, err
	}
	refs := make([]backend.EvidenceRef, 0, len(files))
	for _, f := range files {
		refs = append(refs, f.Ref())
	}
	return refs, nil
}

// Clear drops everything staged for clientID.
func (s *Stager) Clear(ctx context.Context, clientID string) (int, error) {
	return s.kv.Clear(ctx, Namespace(clientID))
}

func (s *Stager) load(ctx context.Context, clientID string) ([]File, error) {
	ns := Namespace(clientID)
	keys, err := s.kv.Keys(ctx, ns)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	files := make([]File, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := s.kv.Get(ctx, ns, k)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var f File
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("evidence: decode %s: %w", k, err)
		}
		files = append(files, f)
	}
	return files, nil
}

func allowed(contentType string) bool {
	mt := contentType
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case strings.HasPrefix(mt, "image/"), strings.HasPrefix(mt, "video/"):
		return true
	case mt == "application/pdf":
		return true
	}
	return false
}

func cleanName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == "" {
		return "evidence"
	}
	return name
}
