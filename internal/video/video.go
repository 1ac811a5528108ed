package video

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mssola/useragent"
	"github.com/streamtube/streamtube/internal/auth"
	"github.com/streamtube/streamtube/internal/httputil"
	"github.com/streamtube/streamtube/internal/storage"
	"github.com/streamtube/streamtube/internal/validate"
)

const maxVideoFormMemory = 64 << 20

const videoColumns = `v.id, v.title, v.description, v.video_file, v.thumbnail, v.duration, v.is_published, v.created_at, v.updated_at,
	 v.anonymous_views + (SELECT count(*) FROM video_viewers vv WHERE vv.video_id = v.id) AS views`

type updateDetailsRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	IsPublished *bool  `json:"isPublished"`
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	if err := r.ParseMultipartForm(maxVideoFormMemory); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	description := strings.TrimSpace(r.FormValue("description"))
	if title == "" || description == "" {
		httputil.WriteError(w, http.StatusBadRequest, "title and description are required")
		return
	}
	for _, msg := range []string{validate.Title(title), validate.Description(description)} {
		if msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
	}

	videoFile, videoHeader, err := r.FormFile("video")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "video file is required")
		return
	}
	defer func() { _ = videoFile.Close() }()

	thumbFile, thumbHeader, err := r.FormFile("thumbnail")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "thumbnail file is required")
		return
	}
	defer func() { _ = thumbFile.Close() }()

	// The video lands in a temp file so ffprobe can read it; the defer
	// removes it on success and failure alike.
	tmpPath, err := stageToTempFile(videoFile)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to stage video upload")
		return
	}
	defer func() { _ = os.Remove(tmpPath) }()

	duration := probeDuration(tmpPath)

	videoCT := fileContentType(videoHeader.Header.Get("Content-Type"), "video/mp4")
	videoURL, err := h.storage.UploadLocalFile(r.Context(),
		storage.NewKey("videos", videoHeader.Filename), videoCT, tmpPath)
	if err != nil || videoURL == "" {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to upload video")
		return
	}

	thumbCT := fileContentType(thumbHeader.Header.Get("Content-Type"), "image/jpeg")
	thumbURL, err := h.storage.Upload(r.Context(),
		storage.NewKey("thumbnails", thumbHeader.Filename), thumbCT, thumbFile, thumbHeader.Size)
	if err != nil || thumbURL == "" {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to upload thumbnail")
		return
	}

	v := Video{
		Title:       title,
		Description: description,
		VideoFile:   videoURL,
		Thumbnail:   thumbURL,
		Duration:    duration,
		IsPublished: true,
		Owner:       &Owner{ID: user.ID, Username: user.Username, Avatar: user.Avatar},
	}
	err = h.db.QueryRow(r.Context(),
		`INSERT INTO videos (owner_id, title, description, video_file, thumbnail, duration, is_published)
		 VALUES ($1, $2, $3, $4, $5, $6, true)
		 RETURNING id, created_at, updated_at`,
		user.ID, title, description, videoURL, thumbURL, duration,
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create video")
		return
	}

	httputil.WriteData(w, http.StatusCreated, &v, "video uploaded successfully")
}

func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoId")
	if uuid.Validate(videoID) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "a valid video id is required")
		return
	}

	var v Video
	var owner Owner
	err := h.db.QueryRow(r.Context(),
		`SELECT `+videoColumns+`, u.id, u.username, u.avatar
		 FROM videos v JOIN users u ON u.id = v.owner_id
		 WHERE v.id = $1`,
		videoID,
	).Scan(&v.ID, &v.Title, &v.Description, &v.VideoFile, &v.Thumbnail, &v.Duration, &v.IsPublished,
		&v.CreatedAt, &v.UpdatedAt, &v.Views, &owner.ID, &owner.Username, &owner.Avatar)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, "video not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to fetch video")
		return
	}
	v.Owner = &owner

	user := auth.UserFromContext(r.Context())
	if user != nil {
		views, err := h.recordAuthenticatedView(r.Context(), videoID, user.ID)
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to record view")
			return
		}
		v.Views = views
	} else {
		views, err := h.recordAnonymousView(r.Context(), videoID)
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to record view")
			return
		}
		v.Views = views
	}

	h.recordViewEvent(r, videoID, user)

	httputil.WriteData(w, http.StatusOK, &v, "video retrieved successfully")
}

// recordAuthenticatedView adds the video to the caller's watch history and
// the caller to the viewer set, both with set semantics, then returns the
// derived view total. Each statement is individually atomic, so concurrent
// views never clobber each other.
func (h *Handler) recordAuthenticatedView(ctx context.Context, videoID, userID string) (int64, error) {
	if _, err := h.db.Exec(ctx,
		`INSERT INTO watch_history (user_id, video_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, videoID,
	); err != nil {
		return 0, err
	}

	if _, err := h.db.Exec(ctx,
		`INSERT INTO video_viewers (video_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		videoID, userID,
	); err != nil {
		return 0, err
	}

	var views int64
	err := h.db.QueryRow(ctx,
		`SELECT anonymous_views + (SELECT count(*) FROM video_viewers vv WHERE vv.video_id = videos.id)
		 FROM videos WHERE id = $1`,
		videoID,
	).Scan(&views)
	return views, err
}

// recordAnonymousView bumps the anonymous counter without touching the
// viewer set; the derived total keeps both contributions.
func (h *Handler) recordAnonymousView(ctx context.Context, videoID string) (int64, error) {
	var views int64
	err := h.db.QueryRow(ctx,
		`UPDATE videos SET anonymous_views = anonymous_views + 1, updated_at = now()
		 WHERE id = $1
		 RETURNING anonymous_views + (SELECT count(*) FROM video_viewers vv WHERE vv.video_id = videos.id)`,
		videoID,
	).Scan(&views)
	return views, err
}

func (h *Handler) recordViewEvent(r *http.Request, videoID string, user *auth.User) {
	ua := useragent.New(r.UserAgent())
	browser, _ := ua.Browser()
	country := h.geo.Country(clientIP(r))

	var userID *string
	if user != nil {
		userID = &user.ID
	}

	if _, err := h.db.Exec(r.Context(),
		`INSERT INTO view_events (video_id, user_id, country, browser, os) VALUES ($1, $2, $3, $4, $5)`,
		videoID, userID, country, browser, ua.OS(),
	); err != nil {
		slog.Error("video: failed to record view event", "video_id", videoID, "error", err)
	}
}

func (h *Handler) MyVideos(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	rows, err := h.db.Query(r.Context(),
		`SELECT `+videoColumns+`
		 FROM videos v
		 WHERE v.owner_id = $1
		 ORDER BY v.created_at DESC`,
		user.ID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to fetch videos")
		return
	}
	defer rows.Close()

	videos := []Video{}
	for rows.Next() {
		var v Video
		if err := rows.Scan(&v.ID, &v.Title, &v.Description, &v.VideoFile, &v.Thumbnail, &v.Duration,
			&v.IsPublished, &v.CreatedAt, &v.UpdatedAt, &v.Views); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to read videos")
			return
		}
		videos = append(videos, v)
	}
	if rows.Err() != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to read videos")
		return
	}

	httputil.WriteData(w, http.StatusOK, videos, "videos retrieved successfully")
}

func (h *Handler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	videoID := chi.URLParam(r, "videoId")
	if uuid.Validate(videoID) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "a valid video id is required")
		return
	}

	var req updateDetailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	title := strings.TrimSpace(req.Title)
	description := strings.TrimSpace(req.Description)
	if title == "" || description == "" {
		httputil.WriteError(w, http.StatusBadRequest, "title and description are required")
		return
	}
	for _, msg := range []string{validate.Title(title), validate.Description(description)} {
		if msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
	}

	var ownerID string
	err := h.db.QueryRow(r.Context(),
		`SELECT owner_id FROM videos WHERE id = $1`, videoID,
	).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, "video not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to fetch video")
		return
	}
	if ownerID != user.ID {
		httputil.WriteError(w, http.StatusForbidden, "only the owner can update this video")
		return
	}

	var v Video
	err = h.db.QueryRow(r.Context(),
		`UPDATE videos v SET title = $1, description = $2, is_published = COALESCE($3, is_published), updated_at = now()
		 WHERE v.id = $4
		 RETURNING `+videoColumns,
		title, description, req.IsPublished, videoID,
	).Scan(&v.ID, &v.Title, &v.Description, &v.VideoFile, &v.Thumbnail, &v.Duration, &v.IsPublished,
		&v.CreatedAt, &v.UpdatedAt, &v.Views)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update video")
		return
	}

	httputil.WriteData(w, http.StatusOK, &v, "video updated successfully")
}

func stageToTempFile(src io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "streamtube-upload-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	return tmpPath, nil
}

// probeDuration asks ffprobe for the media duration in seconds. Any failure
// means duration 0; upload proceeds regardless.
func probeDuration(path string) int {
	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		slog.Warn("video: ffprobe failed, defaulting duration to 0", "error", err)
		return 0
	}

	durationFloat, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil || durationFloat < 0 {
		return 0
	}
	return int(durationFloat)
}

func fileContentType(ct, fallback string) string {
	if ct != "" {
		return ct
	}
	return fallback
}
