package api

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/Jorge-Gabriel97/Timesend/internal/auth"
	"github.com/Jorge-Gabriel97/Timesend/internal/cache"
	"github.com/Jorge-Gabriel97/Timesend/internal/model"
	"github.com/Jorge-Gabriel97/Timesend/internal/service"
	"github.com/Jorge-Gabriel97/Timesend/internal/session"
)

type JobService interface {
	Submit(ctx context.Context, actor model.Actor, sub service.Submission) ([]string, error)
	List(ctx context.Context, actor model.Actor) ([]model.Job, error)
	Get(ctx context.Context, actor model.Actor, id string) (*model.Job, error)
	EditMessage(ctx context.Context, actor model.Actor, id, message string) error
	Cancel(ctx context.Context, actor model.Actor, id string) error
}

type ContactService interface {
	Register(ctx context.Context, name, phone string) (*model.Contact, error)
	Import(ctx context.Context, r io.Reader) (service.ImportReport, error)
	List(ctx context.Context) ([]model.Contact, error)
}

type TenantService interface {
	Authenticate(ctx context.Context, username, password string) (*model.Tenant, error)
	Create(ctx context.Context, actor model.Actor, username, password string, isAdmin bool) (*model.Tenant, error)
	List(ctx context.Context, actor model.Actor) ([]model.Tenant, error)
	ToggleBlock(ctx context.Context, actor model.Actor, id int64) (*model.Tenant, error)
	Delete(ctx context.Context, actor model.Actor, id int64) error
}

type SchedulerControl interface {
	Start() bool
	Stop() bool
	IsRunning() bool
	Len() int
	Next(handle string) (time.Time, bool)
}

type PairingService interface {
	Start(ownerID int64) (session.Status, bool)
	Status(ownerID int64) (session.Status, bool)
	Cancel(ownerID int64) bool
	Reset(ctx context.Context, ownerID int64) (session.Ref, error)
	QRPath(ownerID int64) string
}

type AttachmentStore interface {
	Save(name string, r io.Reader) (string, error)
	Remove(path string) error
}

// Deps are the collaborators of the HTTP layer. Deliveries may be nil when
// no delivery cache is configured.
type Deps struct {
	Jobs       JobService
	Contacts   ContactService
	Tenants    TenantService
	Scheduler  SchedulerControl
	Pairing    PairingService
	Uploads    AttachmentStore
	Deliveries cache.DeliveryCache
	Tokens     *auth.JWT
	Log        *zap.Logger
}

type Handler struct {
	Deps
	log *zap.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{Deps: d, log: d.Log.Named("api")}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	tenant, err := h.Tenants.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	token, err := h.Tokens.Sign(tenant)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "tenant": tenant})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.schedulerState())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.Scheduler.Start()
	writeJSON(w, http.StatusOK, h.schedulerState())
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.Scheduler.Stop()
	writeJSON(w, http.StatusOK, h.schedulerState())
}

func (h *Handler) schedulerState() map[string]any {
	return map[string]any{"running": h.Scheduler.IsRunning(), "armed": h.Scheduler.Len()}
}

func (h *Handler) SubmitJobs(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())

	sub, err := h.parseSubmission(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	ids, err := h.Jobs.Submit(r.Context(), actor, sub)
	if err != nil {
		// A failed submission keeps no job, so nothing else points at the upload.
		if sub.AttachmentPath != "" {
			if rmErr := h.Uploads.Remove(sub.AttachmentPath); rmErr != nil {
				h.log.Warn("remove orphan attachment", zap.String("path", sub.AttachmentPath), zap.Error(rmErr))
			}
		}
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"created": len(ids), "ids": ids})
}

// parseSubmission accepts multipart and url-encoded forms. An attached file is
// saved before the submission is validated.
func (h *Handler) parseSubmission(r *http.Request) (service.Submission, error) {
	var sub service.Submission

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return sub, errors.Mark(errors.Wrap(err, "parse multipart form"), ErrBadRequest)
		}
	} else if err := r.ParseForm(); err != nil {
		return sub, errors.Mark(errors.Wrap(err, "parse form"), ErrBadRequest)
	}

	for _, raw := range r.Form["contact_ids"] {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return sub, errors.Wrapf(ErrBadRequest, "invalid contact id %q", raw)
		}
		sub.ContactIDs = append(sub.ContactIDs, id)
	}
	sub.FreeText = r.FormValue("recipients")
	sub.Message = r.FormValue("message")
	sub.TimeOfDay = r.FormValue("time")
	sub.Recurrence = r.FormValue("recurrence")

	if r.MultipartForm == nil {
		return sub, nil
	}
	file, header, err := r.FormFile("attachment")
	if errors.Is(err, http.ErrMissingFile) {
		return sub, nil
	}
	if err != nil {
		return sub, errors.Mark(errors.Wrap(err, "read attachment"), ErrBadRequest)
	}
	defer file.Close()

	path, err := h.saveAttachment(file, header)
	if err != nil {
		return sub, err
	}
	sub.AttachmentPath = path
	return sub, nil
}

func (h *Handler) saveAttachment(file multipart.File, header *multipart.FileHeader) (string, error) {
	if header.Filename == "" {
		return "", nil
	}
	return h.Uploads.Save(header.Filename, file)
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Jobs.List(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 100)
	offset := parseInt(r.URL.Query().Get("offset"), 0)
	writeJSON(w, http.StatusOK, map[string]any{"items": page(jobs, limit, offset), "total": len(jobs)})
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 || offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type jobView struct {
	*model.Job
	Armed        bool                  `json:"armed"`
	NextFireAt   *time.Time            `json:"nextFireAt,omitempty"`
	LastDelivery *cache.DeliveryRecord `json:"lastDelivery,omitempty"`
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Jobs.Get(r.Context(), actorFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	view := jobView{Job: job}
	if next, ok := h.Scheduler.Next(job.ID); ok {
		view.Armed = true
		if !next.IsZero() {
			view.NextFireAt = &next
		}
	}
	if h.Deliveries != nil {
		rec, err := h.Deliveries.LastDelivery(r.Context(), job.ID)
		if err != nil {
			h.log.Warn("read delivery record", zap.String("job_id", job.ID), zap.Error(err))
		}
		view.LastDelivery = rec
	}
	writeJSON(w, http.StatusOK, view)
}

type editRequest struct {
	Message *string `json:"message"`
}

func (h *Handler) EditJob(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.Message == nil {
		writeError(w, h.log, errors.Wrap(ErrBadRequest, "message is required"))
		return
	}

	id := r.PathValue("id")
	if err := h.Jobs.EditMessage(r.Context(), actorFrom(r.Context()), id, *req.Message); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "message": *req.Message})
}

func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.Jobs.Cancel(r.Context(), actorFrom(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type contactRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	c, err := h.Contacts.Register(r.Context(), req.Name, req.Phone)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	items, err := h.Contacts.List(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if items == nil {
		items = []model.Contact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ImportContacts reads a CSV either from the "file" part of a multipart form
// or from the raw request body.
func (h *Handler) ImportContacts(w http.ResponseWriter, r *http.Request) {
	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, h.log, errors.Mark(errors.Wrap(err, "read csv file"), ErrBadRequest))
			return
		}
		defer file.Close()
		src = file
	}

	report, err := h.Contacts.Import(r.Context(), src)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type tenantRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"isAdmin"`
}

func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req tenantRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	t, err := h.Tenants.Create(r.Context(), actorFrom(r.Context()), req.Username, req.Password, req.IsAdmin)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	items, err := h.Tenants.List(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if items == nil {
		items = []model.Tenant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) ToggleTenantBlock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	t, err := h.Tenants.ToggleBlock(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.Tenants.Delete(r.Context(), actorFrom(r.Context()), id); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) StartPairing(w http.ResponseWriter, r *http.Request) {
	st, started := h.Pairing.Start(actorFrom(r.Context()).TenantID)
	status := http.StatusAccepted
	if !started {
		status = http.StatusConflict
	}
	writeJSON(w, status, st)
}

func (h *Handler) PairingStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := h.Pairing.Status(actorFrom(r.Context()).TenantID)
	if !ok {
		writeError(w, h.log, session.ErrNoPairing)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) CancelPairing(w http.ResponseWriter, r *http.Request) {
	cancelled := h.Pairing.Cancel(actorFrom(r.Context()).TenantID)
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled})
}

// PairingQR serves the latest QR image of the caller's running pairing.
func (h *Handler) PairingQR(w http.ResponseWriter, r *http.Request) {
	owner := actorFrom(r.Context()).TenantID
	st, ok := h.Pairing.Status(owner)
	if !ok || st.State != session.StateRunning || st.QRPath == "" {
		writeError(w, h.log, session.ErrNoPairing)
		return
	}

	png, err := os.ReadFile(h.Pairing.QRPath(owner))
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, h.log, session.ErrNoPairing)
			return
		}
		writeError(w, h.log, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	ref, err := h.Pairing.Reset(r.Context(), actorFrom(r.Context()).TenantID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": ref.Name, "reset": true})
}

func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrBadRequest, "invalid id %q", raw)
	}
	return id, nil
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Mark(errors.Wrap(err, "decode request body"), ErrBadRequest)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
