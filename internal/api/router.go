package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	authed := func(fn http.HandlerFunc) http.Handler {
		return Chain(fn, Authenticate(h.Tokens))
	}
	admin := func(fn http.HandlerFunc) http.Handler {
		return Chain(fn, Authenticate(h.Tokens), RequireAdmin)
	}

	mux.HandleFunc("GET /v1/health", h.Health)
	mux.HandleFunc("POST /v1/auth/login", h.Login)

	mux.Handle("GET /v1/scheduler/status", authed(h.SchedulerStatus))
	mux.Handle("POST /v1/scheduler/start", admin(h.SchedulerStart))
	mux.Handle("POST /v1/scheduler/stop", admin(h.SchedulerStop))

	mux.Handle("GET /v1/jobs", authed(h.ListJobs))
	mux.Handle("POST /v1/jobs", authed(h.SubmitJobs))
	mux.Handle("GET /v1/jobs/{id}", authed(h.GetJob))
	mux.Handle("PATCH /v1/jobs/{id}", authed(h.EditJob))
	mux.Handle("DELETE /v1/jobs/{id}", authed(h.CancelJob))

	mux.Handle("GET /v1/contacts", authed(h.ListContacts))
	mux.Handle("POST /v1/contacts", authed(h.CreateContact))
	mux.Handle("POST /v1/contacts/import", authed(h.ImportContacts))

	mux.Handle("GET /v1/tenants", admin(h.ListTenants))
	mux.Handle("POST /v1/tenants", admin(h.CreateTenant))
	mux.Handle("POST /v1/tenants/{id}/block", admin(h.ToggleTenantBlock))
	mux.Handle("DELETE /v1/tenants/{id}", admin(h.DeleteTenant))

	mux.Handle("POST /v1/session/pairing", authed(h.StartPairing))
	mux.Handle("GET /v1/session/pairing", authed(h.PairingStatus))
	mux.Handle("DELETE /v1/session/pairing", authed(h.CancelPairing))
	mux.Handle("GET /v1/session/pairing/qr", authed(h.PairingQR))
	mux.Handle("DELETE /v1/session", authed(h.ResetSession))

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("timesend"))
	})

	return Chain(mux, LoggingMiddleware(h.Deps.Log))
}
