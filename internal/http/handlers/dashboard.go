// Package handlers contains the read-only dashboard API surface.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/carscout/carscout-ai/internal/messaging/mtaclient"
	"github.com/carscout/carscout-ai/internal/store"
	"github.com/carscout/carscout-ai/pkg/logging"
)

// Narrow views of the store repos so handlers can be exercised with fakes.
type threadReader interface {
	List(ctx context.Context) ([]store.Thread, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*store.Thread, error)
	MarkRead(ctx context.Context, id primitive.ObjectID) error
}

type messageReader interface {
	ListByThread(ctx context.Context, threadID primitive.ObjectID) ([]store.Message, error)
}

type listingReader interface {
	List(ctx context.Context) ([]store.CarListing, error)
	FindByThread(ctx context.Context, threadID primitive.ObjectID) (*store.CarListing, error)
}

type visitReader interface {
	List(ctx context.Context, f store.VisitFilter) ([]store.Visit, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*store.Visit, error)
}

type dbPinger interface {
	Ping(ctx context.Context) error
}

// templateAPI is the slice of the MTA client the dashboard proxies.
type templateAPI interface {
	ListTemplates(ctx context.Context) ([]mtaclient.Template, error)
	RegisterWebhook(ctx context.Context, req mtaclient.RegisterWebhookRequest) (*mtaclient.Webhook, error)
}

// Dashboard serves the read-only API the frontend polls: threads, message
// transcripts, car listings, and scheduled visits.
type Dashboard struct {
	threads  threadReader
	messages messageReader
	listings listingReader
	visits   visitReader
	db       dbPinger
	mta      templateAPI

	webhookSecret string
	alertEmail    string
	logger        *logging.Logger
}

// DashboardConfig wires the dashboard's dependencies. MTA is optional; the
// template and webhook-registration endpoints report unavailable without it.
type DashboardConfig struct {
	Threads  threadReader
	Messages messageReader
	Listings listingReader
	Visits   visitReader
	DB       dbPinger
	MTA      templateAPI

	WebhookSecret string
	AlertEmail    string
	Logger        *logging.Logger
}

// NewDashboard builds the dashboard handler set.
func NewDashboard(cfg DashboardConfig) *Dashboard {
	if cfg.Threads == nil || cfg.Messages == nil || cfg.Listings == nil || cfg.Visits == nil {
		panic("handlers: store repos are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Dashboard{
		threads:       cfg.Threads,
		messages:      cfg.Messages,
		listings:      cfg.Listings,
		visits:        cfg.Visits,
		db:            cfg.DB,
		mta:           cfg.MTA,
		webhookSecret: cfg.WebhookSecret,
		alertEmail:    cfg.AlertEmail,
		logger:        cfg.Logger,
	}
}

// threadView decorates a car listing or visit with its owning thread.
type listingView struct {
	store.CarListing
	Thread *store.Thread `json:"thread,omitempty"`
}

type visitView struct {
	store.Visit
	Thread     *store.Thread     `json:"thread,omitempty"`
	CarListing *store.CarListing `json:"carListing,omitempty"`
}

// Root is the API landing probe.
func (d *Dashboard) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"message": "Car Scout API is running"})
}

// TestDB reports database connectivity.
func (d *Dashboard) TestDB(w http.ResponseWriter, r *http.Request) {
	if d.db == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"connected": false,
			"state":     "unconfigured",
			"message":   "Database not configured",
		})
		return
	}
	if err := d.db.Ping(r.Context()); err != nil {
		d.logger.Error("database ping failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"connected": false,
			"state":     "disconnected",
			"message":   "Database connection failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": true,
		"state":     "connected",
		"message":   "Database connection is healthy",
	})
}

// ListThreads returns every conversation thread newest first.
func (d *Dashboard) ListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := d.threads.List(r.Context())
	if err != nil {
		d.serverError(w, "failed to list threads", err)
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

// ListThreadMessages returns a thread's transcript and marks it read.
func (d *Dashboard) ListThreadMessages(w http.ResponseWriter, r *http.Request) {
	thread, ok := d.threadFromPath(w, r)
	if !ok {
		return
	}
	msgs, err := d.messages.ListByThread(r.Context(), thread.ID)
	if err != nil {
		d.serverError(w, "failed to list messages", err)
		return
	}
	if err := d.threads.MarkRead(r.Context(), thread.ID); err != nil {
		d.logger.Error("failed to mark thread read", "error", err, "thread_id", thread.ID.Hex())
	}
	writeJSON(w, http.StatusOK, msgs)
}

// ListCarListings returns all extracted car listings with their threads.
func (d *Dashboard) ListCarListings(w http.ResponseWriter, r *http.Request) {
	if d.db != nil {
		if err := d.db.Ping(r.Context()); err != nil {
			d.logger.Error("database unavailable", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "database unavailable"})
			return
		}
	}
	listings, err := d.listings.List(r.Context())
	if err != nil {
		d.serverError(w, "failed to list car listings", err)
		return
	}
	views := make([]listingView, 0, len(listings))
	for _, l := range listings {
		view := listingView{CarListing: l}
		if thread, err := d.threads.FindByID(r.Context(), l.ThreadID); err == nil {
			view.Thread = thread
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

// GetThreadCarListing returns the car listing attached to one thread.
func (d *Dashboard) GetThreadCarListing(w http.ResponseWriter, r *http.Request) {
	thread, ok := d.threadFromPath(w, r)
	if !ok {
		return
	}
	listing, err := d.listings.FindByThread(r.Context(), thread.ID)
	if err != nil {
		d.serverError(w, "failed to load car listing", err)
		return
	}
	if listing == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no car listing for thread"})
		return
	}
	writeJSON(w, http.StatusOK, listingView{CarListing: *listing, Thread: thread})
}

// ListVisits returns scheduled visits, optionally bounded by start_date and
// end_date query parameters (RFC 3339 or YYYY-MM-DD). Cancelled visits are
// excluded.
func (d *Dashboard) ListVisits(w http.ResponseWriter, r *http.Request) {
	filter := store.VisitFilter{}
	if raw := r.URL.Query().Get("start_date"); raw != "" {
		from, err := parseDateParam(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid start_date"})
			return
		}
		filter.From = &from
	}
	if raw := r.URL.Query().Get("end_date"); raw != "" {
		to, err := parseDateParam(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid end_date"})
			return
		}
		filter.To = &to
	}

	visits, err := d.visits.List(r.Context(), filter)
	if err != nil {
		d.serverError(w, "failed to list visits", err)
		return
	}
	views := make([]visitView, 0, len(visits))
	for _, v := range visits {
		views = append(views, d.populateVisit(r.Context(), v))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetVisit returns one visit with its thread and car listing.
func (d *Dashboard) GetVisit(w http.ResponseWriter, r *http.Request) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid visit id"})
		return
	}
	visit, err := d.visits.FindByID(r.Context(), id)
	if err != nil {
		d.serverError(w, "failed to load visit", err)
		return
	}
	if visit == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "visit not found"})
		return
	}
	writeJSON(w, http.StatusOK, d.populateVisit(r.Context(), *visit))
}

// ListTemplates proxies the provider's message template list.
func (d *Dashboard) ListTemplates(w http.ResponseWriter, r *http.Request) {
	if d.mta == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "SMS provider not configured"})
		return
	}
	templates, err := d.mta.ListTemplates(r.Context())
	if err != nil {
		d.serverError(w, "failed to list templates", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"templates": templates,
	})
}

type registerWebhookBody struct {
	WebhookURL string `json:"webhookUrl"`
	Secret     string `json:"secret"`
	AlertEmail string `json:"alertEmail"`
}

// RegisterWebhook points the SMS provider's reply webhook at this service.
func (d *Dashboard) RegisterWebhook(w http.ResponseWriter, r *http.Request) {
	if d.mta == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "SMS provider not configured"})
		return
	}
	var body registerWebhookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if body.WebhookURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "webhookUrl is required"})
		return
	}
	if body.Secret == "" {
		body.Secret = d.webhookSecret
	}
	if body.AlertEmail == "" {
		body.AlertEmail = d.alertEmail
	}

	webhook, err := d.mta.RegisterWebhook(r.Context(), mtaclient.RegisterWebhookRequest{
		URL:        body.WebhookURL,
		Secret:     body.Secret,
		AlertEmail: body.AlertEmail,
	})
	if err != nil {
		d.serverError(w, "failed to register webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"webhook": webhook,
	})
}

func (d *Dashboard) populateVisit(ctx context.Context, v store.Visit) visitView {
	view := visitView{Visit: v}
	if thread, err := d.threads.FindByID(ctx, v.ThreadID); err == nil {
		view.Thread = thread
	}
	if listing, err := d.listings.FindByThread(ctx, v.ThreadID); err == nil {
		view.CarListing = listing
	}
	return view
}

// threadFromPath resolves the {id} path parameter to a thread, writing the
// error response itself when it can't.
func (d *Dashboard) threadFromPath(w http.ResponseWriter, r *http.Request) (*store.Thread, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid thread id"})
		return nil, false
	}
	thread, err := d.threads.FindByID(r.Context(), id)
	if err != nil {
		d.serverError(w, "failed to load thread", err)
		return nil, false
	}
	if thread == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "thread not found"})
		return nil, false
	}
	return thread, true
}

func (d *Dashboard) serverError(w http.ResponseWriter, msg string, err error) {
	d.logger.Error(msg, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": msg})
}

// parseDateParam accepts RFC 3339 timestamps or bare dates.
func parseDateParam(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
