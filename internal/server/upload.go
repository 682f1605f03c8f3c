package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/service"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	maxImageSize = 10 << 20
	maxVideoSize = 100 << 20

	defaultProcessingDelay = 3 * time.Second
)

type videoUpload struct {
	started time.Time
	url     string
}

// uploadTracker имитирует асинхронную обработку видео: загрузка считается
// готовой через delay после приема файла
type uploadTracker struct {
	mu      sync.Mutex
	delay   time.Duration
	uploads map[string]videoUpload
}

func newUploadTracker() *uploadTracker {
	return &uploadTracker{delay: defaultProcessingDelay, uploads: make(map[string]videoUpload)}
}

func (t *uploadTracker) add(id, url string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uploads[id] = videoUpload{started: now, url: url}
}

func (t *uploadTracker) status(id string, now time.Time) (*service.VideoStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	up, ok := t.uploads[id]
	if !ok {
		return nil, false
	}
	if now.Sub(up.started) < t.delay {
		return &service.VideoStatus{Status: service.VideoProcessing}, true
	}
	return &service.VideoStatus{Status: service.VideoCompleted, URL: up.url}, true
}

// WithVideoProcessing задает время имитации обработки видео
func WithVideoProcessing(delay time.Duration) Option {
	return func(s *Server) { s.uploads.delay = delay }
}

func (s *Server) uploadDir() string {
	return filepath.Join(filepath.Dir(s.db.Path()), "uploads")
}

// handleUpload принимает multipart-файл в поле field и сохраняет его под новым именем
func (s *Server) handleUpload(field string) http.HandlerFunc {
	limit := int64(maxImageSize)
	if field == "video" {
		limit = maxVideoSize
	}
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		file, header, err := r.FormFile(field)
		if err != nil {
			writeError(w, r, apperr.Validation("file field %q: %v", field, err))
			return
		}
		defer file.Close()

		id := uuid.NewString()
		name := id + strings.ToLower(filepath.Ext(header.Filename))
		if err := os.MkdirAll(s.uploadDir(), 0o755); err != nil {
			writeError(w, r, err)
			return
		}
		dst, err := os.Create(filepath.Join(s.uploadDir(), name))
		if err != nil {
			writeError(w, r, err)
			return
		}
		size, err := io.Copy(dst, file)
		if closeErr := dst.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			writeError(w, r, fmt.Errorf("save upload: %w", err))
			return
		}

		url := fmt.Sprintf("%s/files/%s", apiPrefix, name)
		res := service.UploadResult{URL: url}
		if field == "video" {
			res.UploadID = id
			s.uploads.add(id, url, s.now())
		}
		log.WithFields(log.Fields{
			"kind":    field,
			"file":    header.Filename,
			"size":    size,
			"user_id": currentUserID(r.Context()),
		}).Info("Файл загружен")
		writeData(w, res)
	}
}

func (s *Server) handleVideoStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := s.uploads.status(r.PathValue("id"), s.now())
	if !ok {
		writeError(w, r, fmt.Errorf("upload %s: %w", r.PathValue("id"), apperr.ErrNotFound))
		return
	}
	writeData(w, st)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(r.PathValue("name"))
	http.ServeFile(w, r, filepath.Join(s.uploadDir(), name))
}
