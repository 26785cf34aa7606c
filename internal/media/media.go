// Package media validates and stores uploaded files. Size ceilings are
// enforced client-side of the store, per file kind, before any bytes travel.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
)

// Ceilings per kind. Archives and executables get the video ceiling; other
// documents are capped lower.
const (
	MaxImageBytes    = 10 << 20
	MaxVideoBytes    = 100 << 20
	MaxArchiveBytes  = 100 << 20
	MaxDocumentBytes = 50 << 20
)

var (
	ErrEmptyFile = errors.New("media: empty file")
	ErrTooLarge  = errors.New("media: file exceeds the size limit for its kind")
)

var archiveExts = map[string]bool{
	".zip": true, ".rar": true, ".7z": true, ".tar": true, ".gz": true,
	".exe": true, ".msi": true, ".dmg": true, ".apk": true, ".ipa": true,
}

// DetectKind classifies by content type, falling back to document.
func DetectKind(contentType string) Kind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return KindImage
	case strings.HasPrefix(contentType, "video/"):
		return KindVideo
	default:
		return KindDocument
	}
}

// SizeLimit returns the ceiling in bytes for a file of this kind and name.
func SizeLimit(kind Kind, fileName string) int64 {
	switch kind {
	case KindImage:
		return MaxImageBytes
	case KindVideo:
		return MaxVideoBytes
	default:
		if archiveExts[strings.ToLower(path.Ext(fileName))] {
			return MaxArchiveBytes
		}
		return MaxDocumentBytes
	}
}

// CheckSize rejects an upload before it leaves the client side.
func CheckSize(kind Kind, fileName string, size int64) error {
	if size <= 0 {
		return ErrEmptyFile
	}
	if size > SizeLimit(kind, fileName) {
		return ErrTooLarge
	}
	return nil
}

// UploadResult is handed back to message construction: the url plus the
// metadata the message union's media cases carry.
type UploadResult struct {
	URL       string  `json:"url"`
	Type      Kind    `json:"type"`
	Format    string  `json:"format"`
	FileName  string  `json:"fileName"`
	FileSize  int64   `json:"fileSize"`
	Duration  float64 `json:"duration,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
}

type Uploader struct {
	store *S3Store
	log   *zap.SugaredLogger
}

func NewUploader(store *S3Store, log *zap.SugaredLogger) *Uploader {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Uploader{store: store, log: log}
}

// Upload validates, stores and describes one file. Images also get a
// thumbnail rendered beside them; thumbnail failures are logged, not fatal.
func (u *Uploader) Upload(ctx context.Context, fileName, contentType string, data []byte, duration float64) (*UploadResult, error) {
	if u.store == nil {
		return nil, ErrNoBucket
	}
	kind := DetectKind(contentType)
	if err := CheckSize(kind, fileName, int64(len(data))); err != nil {
		return nil, err
	}

	key := uuid.NewString() + "/" + fileName
	url, err := u.store.Upload(ctx, key, contentType, data)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", fileName, err)
	}

	res := &UploadResult{
		URL:      url,
		Type:     kind,
		Format:   strings.TrimPrefix(strings.ToLower(path.Ext(fileName)), "."),
		FileName: fileName,
		FileSize: int64(len(data)),
	}
	if kind == KindVideo {
		res.Duration = duration
	}
	if kind == KindImage {
		res.Thumbnail = u.uploadThumbnail(ctx, key, data)
	}
	return res, nil
}

func (u *Uploader) uploadThumbnail(ctx context.Context, key string, data []byte) string {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		u.log.Warnw("thumbnail decode failed", "key", key, "err", err)
		return ""
	}
	thumb := imaging.Thumbnail(img, 320, 320, imaging.Lanczos)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 80}); err != nil {
		u.log.Warnw("thumbnail encode failed", "key", key, "err", err)
		return ""
	}
	url, err := u.store.Upload(ctx, key+".thumb.jpg", "image/jpeg", buf.Bytes())
	if err != nil {
		u.log.Warnw("thumbnail upload failed", "key", key, "err", err)
		return ""
	}
	return url
}
