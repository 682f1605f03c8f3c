package service

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/ButyrinIA/community/internal/api"
	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/models"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollAttempts = 60
	DefaultPollInterval = 2 * time.Second

	maxParallelUploads = 3
)

type Upload struct {
	c *api.Client
}

// File - содержимое загружаемого файла; Size нужен для отчета о прогрессе
type File struct {
	Name    string
	Content io.Reader
	Size    int64
}

func (s *Upload) Image(ctx context.Context, f File) (string, error) {
	var res UploadResult
	if err := s.c.Upload(ctx, "/upload/image", "image", f.Name, f.Content, f.Size, nil, &res); err != nil {
		return "", err
	}
	return res.URL, nil
}

// Images загружает файлы параллельно; порядок адресов совпадает с порядком файлов
func (s *Upload) Images(ctx context.Context, files []File) ([]string, error) {
	if len(files) > models.MaxMediaFiles {
		return nil, apperr.Validation("maximum %d media files allowed", models.MaxMediaFiles)
	}
	urls := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)
	for i, f := range files {
		g.Go(func() error {
			u, err := s.Image(gctx, f)
			if err != nil {
				return fmt.Errorf("upload %s: %w", f.Name, err)
			}
			urls[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

func (s *Upload) Video(ctx context.Context, f File, onProgress func(int)) (*UploadResult, error) {
	var res UploadResult
	if err := s.c.Upload(ctx, "/upload/video", "video", f.Name, f.Content, f.Size, onProgress, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Upload) VideoStatus(ctx context.Context, uploadID string) (*VideoStatus, error) {
	var st VideoStatus
	if err := s.c.Get(ctx, "/upload/video/"+url.PathEscape(uploadID)+"/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

type PollOptions struct {
	MaxAttempts int
	Interval    time.Duration
}

// WaitForVideoProcessing опрашивает статус не более MaxAttempts раз с паузой Interval
// между опросами. После последней попытки пауза не делается.
func (s *Upload) WaitForVideoProcessing(ctx context.Context, uploadID string, opts PollOptions) (*VideoStatus, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultPollAttempts
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		st, err := s.VideoStatus(ctx, uploadID)
		if err != nil {
			return nil, err
		}
		switch st.Status {
		case VideoCompleted:
			return st, nil
		case VideoFailed:
			msg := st.Error
			if msg == "" {
				msg = "Video processing failed"
			}
			return nil, fmt.Errorf("%w: %s", apperr.ErrRemote, msg)
		}

		log.WithFields(log.Fields{"upload_id": uploadID, "attempt": attempt, "status": st.Status}).Debug("Видео еще обрабатывается")
		if attempt == opts.MaxAttempts {
			break
		}
		timer := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("video processing timeout: %w", apperr.ErrTimeout)
}
