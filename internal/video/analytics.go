package video

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/streamtube/streamtube/internal/auth"
	"github.com/streamtube/streamtube/internal/httputil"
)

type breakdownItem struct {
	Name  string `json:"name"`
	Views int64  `json:"views"`
}

type analyticsResponse struct {
	TotalViews     int64           `json:"totalViews"`
	UniqueViewers  int64           `json:"uniqueViewers"`
	AnonymousViews int64           `json:"anonymousViews"`
	Countries      []breakdownItem `json:"countries"`
	Browsers       []breakdownItem `json:"browsers"`
}

// Analytics reduces the view-event log for a video the caller owns. Absent
// and non-owned videos both read as not found.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	videoID := chi.URLParam(r, "videoId")
	if uuid.Validate(videoID) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "a valid video id is required")
		return
	}

	var resp analyticsResponse
	err := h.db.QueryRow(r.Context(),
		`SELECT v.anonymous_views,
		        (SELECT count(*) FROM video_viewers vv WHERE vv.video_id = v.id)
		 FROM videos v WHERE v.id = $1 AND v.owner_id = $2`,
		videoID, user.ID,
	).Scan(&resp.AnonymousViews, &resp.UniqueViewers)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}
	resp.TotalViews = resp.AnonymousViews + resp.UniqueViewers

	resp.Countries, err = h.viewBreakdown(r.Context(), videoID, "country")
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load analytics")
		return
	}

	resp.Browsers, err = h.viewBreakdown(r.Context(), videoID, "browser")
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load analytics")
		return
	}

	httputil.WriteData(w, http.StatusOK, &resp, "video analytics retrieved successfully")
}

func (h *Handler) viewBreakdown(ctx context.Context, videoID, column string) ([]breakdownItem, error) {
	rows, err := h.db.Query(ctx,
		`SELECT `+column+`, count(*) FROM view_events
		 WHERE video_id = $1 AND `+column+` <> ''
		 GROUP BY `+column+`
		 ORDER BY count(*) DESC
		 LIMIT 10`,
		videoID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []breakdownItem{}
	for rows.Next() {
		var item breakdownItem
		if err := rows.Scan(&item.Name, &item.Views); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
