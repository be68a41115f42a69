package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"grantline.org/internal/ledger"
	"grantline.org/internal/obs"
	"grantline.org/internal/stream"
)

type registerResourceRequest struct {
	ResourceID   string `json:"resource_id"`
	ResourceType string `json:"resource_type"`
}

type verifyAccessorRequest struct {
	Principal    string `json:"principal"`
	AccessorType string `json:"accessor_type"`
}

type grantRequest struct {
	Accessor  string  `json:"accessor"`
	Category  string  `json:"category"`
	Expiry    *uint64 `json:"expiry,omitempty"`
	FeeAmount uint64  `json:"fee_amount"`
}

type recordAccessRequest struct {
	Owner     string `json:"owner"`
	Category  string `json:"category"`
	Purpose   string `json:"purpose"`
	FeeAmount uint64 `json:"fee_amount"`
}

type listAccessRecordsResponse struct {
	Items    []ledger.AccessRecord `json:"items"`
	NextFrom uint64                `json:"next_from"`
	AsOf     time.Time             `json:"as_of"`
}

// --- registry ---

func (a *API) handleParticipantsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.registerParticipant(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleParticipantResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/participants/")
	principal, ok := strings.CutSuffix(path, "/registration")
	if !ok || principal == "" || strings.Contains(principal, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	registered, err := a.svc.IsRegistered(r.Context(), ledger.Principal(principal))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"principal":  principal,
		"registered": registered,
	})
}

func (a *API) registerParticipant(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerPrincipal(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	participant, err := a.svc.RegisterParticipant(r.Context(), caller)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "registry.participant.register", map[string]any{
		"principal":     string(participant.Principal),
		"registered_at": participant.RegisteredAt,
	})

	w.Header().Set("Location", "/v1/participants/"+string(participant.Principal)+"/registration")
	writeJSON(w, http.StatusCreated, participant)
}

func (a *API) handleResourcesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.registerResource(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleResourceResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/resources/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if strings.Contains(path, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.removeResource(w, r, path)
	case http.MethodGet:
		owner, id, ok := strings.Cut(path, "/")
		if !ok || owner == "" || id == "" || strings.Contains(id, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		registered, err := a.svc.IsResourceRegistered(r.Context(), ledger.Principal(owner), id)
		if err != nil {
			handleLedgerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"owner":       owner,
			"resource_id": id,
			"registered":  registered,
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) registerResource(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerPrincipal(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req registerResourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.svc.RegisterResource(r.Context(), caller, strings.TrimSpace(req.ResourceID), strings.TrimSpace(req.ResourceType))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "registry.resource.register", map[string]any{
		"owner":         string(res.Owner),
		"resource_id":   res.ID,
		"resource_type": res.Type,
	})

	w.Header().Set("Location", "/v1/resources/"+string(res.Owner)+"/"+res.ID)
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) removeResource(w http.ResponseWriter, r *http.Request, resourceID string) {
	caller, ok := callerPrincipal(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := a.svc.RemoveResource(r.Context(), caller, resourceID); err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "registry.resource.remove", map[string]any{
		"owner":       string(caller),
		"resource_id": resourceID,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"owner":       string(caller),
		"resource_id": resourceID,
		"removed":     true,
	})
}

func (a *API) handleAccessorsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.verifyAccessor(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleAccessorResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal := strings.TrimPrefix(r.URL.Path, "/v1/accessors/")
	if principal == "" || strings.Contains(principal, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	verified, err := a.svc.IsVerified(r.Context(), ledger.Principal(principal))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"principal": principal,
		"verified":  verified,
	})
}

func (a *API) verifyAccessor(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerPrincipal(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req verifyAccessorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	acc, err := a.svc.VerifyAccessor(r.Context(), caller, ledger.Principal(strings.TrimSpace(req.Principal)), strings.TrimSpace(req.AccessorType))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "registry.accessor.verify", map[string]any{
		"principal":     string(acc.Principal),
		"accessor_type": acc.Type,
		"verified_by":   string(caller),
	})

	w.Header().Set("Location", "/v1/accessors/"+string(acc.Principal))
	writeJSON(w, http.StatusCreated, acc)
}

// --- permissions ---

func (a *API) handlePermissionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.grant(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handlePermissionResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/permissions/")
	accessor, category, ok := strings.Cut(path, "/")
	if !ok || accessor == "" || category == "" || strings.Contains(category, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	a.revoke(w, r, accessor, category)
}

func (a *API) grant(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerPrincipal(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var expiry *ledger.Height
	if req.Expiry != nil {
		h := ledger.Height(*req.Expiry)
		expiry = &h
	}

	perm, err := a.svc.Grant(r.Context(), owner, ledger.Principal(strings.TrimSpace(req.Accessor)), ledger.Category(req.Category), expiry, req.FeeAmount)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	fields := map[string]any{
		"owner":    string(perm.Owner),
		"accessor": string(perm.Accessor),
		"category": string(perm.Category),
	}
	if perm.HasExpiry {
		fields["expiry"] = perm.Expiry
	}
	a.audit(r.Context(), "permission.grant", fields)

	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) revoke(w http.ResponseWriter, r *http.Request, accessor, category string) {
	owner, ok := callerPrincipal(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := a.svc.Revoke(r.Context(), owner, ledger.Principal(accessor), ledger.Category(category)); err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "permission.revoke", map[string]any{
		"owner":    string(owner),
		"accessor": accessor,
		"category": category,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"owner":    string(owner),
		"accessor": accessor,
		"category": category,
		"revoked":  true,
	})
}

func (a *API) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	q := r.URL.Query()
	owner := strings.TrimSpace(q.Get("owner"))
	accessor := strings.TrimSpace(q.Get("accessor"))
	category := strings.TrimSpace(q.Get("category"))
	if owner == "" || accessor == "" || category == "" {
		writeError(w, r, http.StatusBadRequest, "owner, accessor and category are required")
		return
	}

	allowed, err := a.svc.CheckAccess(r.Context(), ledger.Principal(owner), ledger.Principal(accessor), ledger.Category(category))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	obs.CountPermissionCheck(allowed)

	writeJSON(w, http.StatusOK, map[string]any{
		"owner":    owner,
		"accessor": accessor,
		"category": category,
		"allowed":  allowed,
	})
}

// --- audit trail ---

func (a *API) handleAccessRecordsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.recordAccess(w, r)
	case http.MethodGet:
		a.listAccessRecords(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAccessRecordResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/v1/access-records/")
	if raw == "" || strings.Contains(raw, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "access record id must be a non-negative integer")
		return
	}
	rec, ok, err := a.svc.GetAccessRecord(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "access record not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) recordAccess(w http.ResponseWriter, r *http.Request) {
	accessor, ok := callerPrincipal(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req recordAccessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := a.svc.RecordAccess(r.Context(), ledger.Principal(strings.TrimSpace(req.Owner)), accessor, ledger.Category(req.Category), req.Purpose, req.FeeAmount)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	obs.CountAccessRecord()

	if a.stream != nil {
		a.stream.Publish(stream.EventFromRecord(rec))
	}

	a.audit(r.Context(), "audit.access.record", map[string]any{
		"access_id": rec.ID,
		"owner":     string(rec.Owner),
		"accessor":  string(rec.Accessor),
		"category":  string(rec.Category),
	})

	w.Header().Set("Location", "/v1/access-records/"+strconv.FormatUint(rec.ID, 10))
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) listAccessRecords(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	fromParam := strings.TrimSpace(r.URL.Query().Get("from"))
	var from uint64
	if fromParam != "" {
		v, err := strconv.ParseUint(fromParam, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "from must be a non-negative integer")
			return
		}
		from = v
	}

	items, next, err := a.svc.ListAccessRecords(r.Context(), limit, from)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listAccessRecordsResponse{
		Items:    items,
		NextFrom: next,
		AsOf:     time.Now().UTC(),
	})
}

// --- helpers ---

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput),
		errors.Is(err, ledger.ErrInvalidCategory),
		errors.Is(err, ledger.ErrInvalidExpiry):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrParticipantNotFound),
		errors.Is(err, ledger.ErrResourceNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrAlreadyRegistered),
		errors.Is(err, ledger.ErrResourceAlreadyRegistered),
		errors.Is(err, ledger.ErrAlreadyVerified),
		errors.Is(err, ledger.ErrAccessorNotVerified):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
