package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"grantline.org/internal/auth"
	"grantline.org/internal/ledger"
	"grantline.org/internal/obs"
	"grantline.org/internal/stream"
)

// ReadyProbe reports readiness (pings the DB when one is configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the API dependencies.
type Config struct {
	Ready   ReadyProbe
	Service ledger.Service
	Clock   ledger.Clock
	Stream  *stream.Stream
	Version string
}

// API is the HTTP layer over the permission ledger.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	svc        ledger.Service
	clock      ledger.Clock
	stream     *stream.Stream
	version    string

	rateBurst  int
	ratePerSec int
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: cfg.Ready,
		svc:        cfg.Service,
		clock:      cfg.Clock,
		stream:     cfg.Stream,
		version:    cfg.Version,
		rateBurst:  50,
		ratePerSec: 25,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// registry
	a.mux.HandleFunc("/v1/participants", a.handleParticipantsCollection)
	a.mux.HandleFunc("/v1/participants/", a.handleParticipantResource)
	a.mux.HandleFunc("/v1/resources", a.handleResourcesCollection)
	a.mux.HandleFunc("/v1/resources/", a.handleResourceResource)
	a.mux.Handle("/v1/accessors", RequireRole(auth.RoleOperator)(http.HandlerFunc(a.handleAccessorsCollection)))
	a.mux.HandleFunc("/v1/accessors/", a.handleAccessorResource)

	// permissions
	a.mux.HandleFunc("/v1/permissions", a.handlePermissionsCollection)
	a.mux.HandleFunc("/v1/permissions/", a.handlePermissionResource)
	a.mux.HandleFunc("/v1/permissions/check", a.handlePermissionCheck)

	// audit trail
	a.mux.HandleFunc("/v1/access-records", a.handleAccessRecordsCollection)
	a.mux.HandleFunc("/v1/access-records/stream", a.Stream)
	a.mux.HandleFunc("/v1/access-records/", a.handleAccessRecordResource)

	// clock
	a.mux.HandleFunc("/v1/height", a.handleHeight)

	// auth
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- ops handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "grantline-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "grantline-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) handleHeight(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.clock == nil {
		writeError(w, r, http.StatusServiceUnavailable, "clock unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"height": a.clock.Height(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
