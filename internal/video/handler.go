package video

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/streamtube/streamtube/internal/database"
	"github.com/streamtube/streamtube/internal/geoip"
)

// MediaStorage is the slice of the media gateway the video handlers need.
type MediaStorage interface {
	Upload(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error)
	UploadLocalFile(ctx context.Context, key, contentType, path string) (string, error)
}

type Handler struct {
	db      database.DBTX
	storage MediaStorage
	geo     *geoip.Resolver
}

func NewHandler(db database.DBTX, storage MediaStorage, geo *geoip.Resolver) *Handler {
	return &Handler{db: db, storage: storage, geo: geo}
}

// Owner is the reduced projection of the uploading user embedded in video
// responses.
type Owner struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type Video struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	VideoFile   string    `json:"videoFile"`
	Thumbnail   string    `json:"thumbnail"`
	Duration    int       `json:"duration"`
	Views       int64     `json:"views"`
	IsPublished bool      `json:"isPublished"`
	Owner       *Owner    `json:"owner,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(forwarded)
	}
	return r.RemoteAddr
}
