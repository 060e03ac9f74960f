package handlers

import (
	"context"
	"net/http"
	"time"

	apperrors "github.com/3leaps/dumpkeeper/internal/errors"
	"github.com/3leaps/dumpkeeper/pkg/workqueue"
	"github.com/go-chi/chi/v5"
)

// QueueReader is the read side of the work-item store.
type QueueReader interface {
	Summarize(ctx context.Context) ([]workqueue.Summary, error)
	Claims(ctx context.Context, filter workqueue.ClaimFilter) ([]workqueue.WorkItem, error)
	Get(ctx context.Context, key workqueue.Key) (*workqueue.WorkItem, error)
}

// ItemView is the JSON form of a work item.
type ItemView struct {
	Kind       string     `json:"kind"`
	Subject    string     `json:"subject,omitempty"`
	Date       string     `json:"date"`
	Progress   string     `json:"progress"`
	CanArchive bool       `json:"can_archive"`
	IsArchived string     `json:"is_archived"`
	IsChecked  string     `json:"is_checked"`
	ClaimedBy  string     `json:"claimed_by,omitempty"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	Comments   string     `json:"comments,omitempty"`
}

// NewItemView converts a row.
func NewItemView(it workqueue.WorkItem) ItemView {
	return ItemView{
		Kind:       string(it.Kind),
		Subject:    it.Subject,
		Date:       workqueue.ArchiveDate(it.Date),
		Progress:   string(it.Progress),
		CanArchive: it.CanArchive,
		IsArchived: it.IsArchived.String(),
		IsChecked:  it.IsChecked.String(),
		ClaimedBy:  it.ClaimedBy,
		ClaimedAt:  it.ClaimedAt,
		Comments:   it.Comments,
	}
}

// QueueHandler serves read-only views of the work queue.
type QueueHandler struct {
	queue QueueReader
}

// NewQueueHandler wraps q.
func NewQueueHandler(q QueueReader) *QueueHandler {
	return &QueueHandler{queue: q}
}

// Summary handles GET /v1/queue.
func (h *QueueHandler) Summary(w http.ResponseWriter, r *http.Request) {
	rows, err := h.queue.Summarize(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if rows == nil {
		rows = []workqueue.Summary{}
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"summary": rows})
}

// Claims handles GET /v1/claims?host=&kind=&older_than=.
func (h *QueueHandler) Claims(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := workqueue.ClaimFilter{
		Host: q.Get("host"),
		Kind: workqueue.Kind(q.Get("kind")),
	}
	if s := q.Get("older_than"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			respondWithError(w, r, apperrors.BadRequest("invalid older_than", err))
			return
		}
		filter.OlderThan = d
	}
	items, err := h.queue.Claims(r.Context(), filter)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	views := make([]ItemView, 0, len(items))
	for _, it := range items {
		views = append(views, NewItemView(it))
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"claims": views})
}

// Item handles GET /v1/items/{kind}/{date}?subject=. date is YYYYMMDD.
func (h *QueueHandler) Item(w http.ResponseWriter, r *http.Request) {
	date, err := workqueue.ParseSnapshotDate(chi.URLParam(r, "date"))
	if err != nil {
		respondWithError(w, r, apperrors.BadRequest("invalid date", err))
		return
	}
	key := workqueue.Key{
		Kind:    workqueue.Kind(chi.URLParam(r, "kind")),
		Subject: r.URL.Query().Get("subject"),
		Date:    date,
	}
	item, err := h.queue.Get(r.Context(), key)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, NewItemView(*item))
}

// PingChecker reports the store reachable when Ping succeeds.
type PingChecker struct {
	Pinger interface {
		PingContext(ctx context.Context) error
	}
}

func (p PingChecker) CheckHealth(ctx context.Context) error {
	return p.Pinger.PingContext(ctx)
}
