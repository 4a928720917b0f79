package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sosi/kosningakerfi/internal/auth"
	"github.com/sosi/kosningakerfi/internal/consent"
	"github.com/sosi/kosningakerfi/internal/crypto"
	"github.com/sosi/kosningakerfi/internal/domain"
	apperrors "github.com/sosi/kosningakerfi/internal/errors"
	"github.com/sosi/kosningakerfi/internal/eligibility"
	"github.com/sosi/kosningakerfi/internal/observer"
	"github.com/sosi/kosningakerfi/internal/registration"
	"github.com/sosi/kosningakerfi/internal/signin"
)

// maxFlowWait bounds a long poll on /auth/flow.
const maxFlowWait = 10 * time.Second

// EligibilityChecker looks a national ID up in the membership registry.
type EligibilityChecker interface {
	Verify(ctx context.Context, nationalID string) (*domain.EligibilityRecord, error)
}

// SessionViewer reports what the voter is told about a session.
type SessionViewer interface {
	Current(ctx context.Context, session *domain.Session) observer.View
}

// SignOuter ends platform sessions.
type SignOuter interface {
	SignOut(ctx context.Context, sessionID string) error
}

// ConsentBroker runs the secondary-provider popups.
type ConsentBroker interface {
	Pending(sessionID string) (string, bool)
	Complete(ctx context.Context, providerID, state, code, errParam string) error
	Dismiss(sessionID string) bool
}

// PortalDeps are the collaborators of the portal routes.
type PortalDeps struct {
	Flows       *registration.Flows
	Sessions    *auth.SessionService
	CSRF        *auth.CSRFService
	Lockout     *auth.LockoutService
	States      *crypto.StateSigner
	Consent     ConsentBroker
	Platform    SignOuter
	Observer    SessionViewer
	Eligibility EligibilityChecker
	// SignIn is the returning voter's sign-in with a linked account.
	SignIn *signin.Service
	// Bypass is nil unless the development sign-in is enabled.
	Bypass *registration.Bypass
}

// PortalHandler serves the voter-facing endpoints.
type PortalHandler struct {
	deps        PortalDeps
	flowTimeout time.Duration
	logger      *slog.Logger
}

// NewPortalHandler creates a new PortalHandler. Each resumed flow may run
// for at most flowTimeout.
func NewPortalHandler(deps PortalDeps, flowTimeout time.Duration, logger *slog.Logger) *PortalHandler {
	return &PortalHandler{
		deps:        deps,
		flowTimeout: flowTimeout,
		logger:      logger,
	}
}

// PortalRoutesConfig configures MountPortal.
type PortalRoutesConfig struct {
	StartRateLimit       int
	EligibilityRateLimit int
}

// MountPortal registers the portal routes on r.
func MountPortal(r chi.Router, h *PortalHandler, jwks *JWKSHandler, cfg PortalRoutesConfig) {
	r.Get(JWKSPath, jwks.JWKS)
	r.Get("/auth/csrf", h.CSRFToken)

	r.With(RateLimit("start", cfg.StartRateLimit)).Get("/auth/kenni/start", h.Start)
	r.Get("/auth/callback", h.Callback)
	if h.deps.SignIn != nil {
		r.With(RateLimit("signin", cfg.StartRateLimit)).Get("/auth/google/start", h.SignInStart)
		r.Get("/auth/google/callback", h.SignInCallback)
	}
	r.Get("/auth/flow", h.Flow)
	r.Get("/auth/popup/{provider}/callback", h.PopupCallback)
	r.Get("/api/me", h.Me)

	r.Group(func(r chi.Router) {
		r.Use(h.requireCSRF)
		r.Post("/auth/popup/dismiss", h.DismissPopup)
		r.Post("/auth/signout", h.SignOut)
		r.With(RateLimit("eligibility", cfg.EligibilityRateLimit)).Post("/api/eligibility", h.CheckEligibility)
		if h.deps.Bypass != nil {
			r.With(RateLimit("bypass", cfg.EligibilityRateLimit)).Post("/auth/dev/eligibility-login", h.BypassSignIn)
		}
	})
}

func (h *PortalHandler) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.deps.CSRF.ValidateToken(r); err != nil {
			h.logger.Info("csrf validation failed", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusForbidden, apperrors.CodeForbidden, "Invalid request. Please reload and try again.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CSRFToken handles GET /auth/csrf.
func (h *PortalHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.deps.CSRF.GenerateToken(w)
	if err != nil {
		h.logger.Error("failed to generate CSRF token", "error", err)
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

// Start handles GET /auth/kenni/start: it opens a flow bound to this browser
// and redirects to Kenni.is.
func (h *PortalHandler) Start(w http.ResponseWriter, r *http.Request) {
	m, authURL, err := h.deps.Flows.Start(r.Context())
	if err != nil {
		h.logger.Error("failed to start registration", "error", err)
		writeJSON(w, http.StatusInternalServerError, flowResponse{State: m.State()})
		return
	}

	h.deps.Sessions.SetFlowCookie(w, m.ID())
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles GET /auth/callback, the Kenni.is redirect. The flow is
// resumed in the background; the browser follows it on /auth/flow. A
// callback that cannot be tied to this browser's flow fails on its own and
// leaves that flow untouched.
func (h *PortalHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	flowID, hasFlow := h.deps.Sessions.FlowID(r)

	stateFlow, err := h.deps.States.Verify(q.Get("state"))
	reject := ""
	switch {
	case err != nil:
		reject = "invalid state"
	case !hasFlow:
		reject = "no flow cookie"
	case stateFlow != flowID:
		reject = "state belongs to another flow"
	}
	if reject != "" {
		h.logger.Warn("callback rejected", "reason", reject, "error", err)
		writeJSON(w, http.StatusBadRequest, flowResponse{State: h.deps.Flows.Reject(r.Context())})
		return
	}

	if providerErr := q.Get("error"); providerErr != "" {
		h.logger.Info("kenni returned an error", "error", providerErr, "description", q.Get("error_description"))
		code = ""
	}

	m := h.deps.Flows.Mount(flowID)
	cb := registration.Callback{Code: code, Meta: clientMeta(r)}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.flowTimeout)
	go func() {
		defer cancel()
		m.Resume(ctx, cb)
	}()

	w.Header().Set("Location", "/auth/flow")
	writeJSON(w, http.StatusAccepted, flowResponse{State: m.State()})
}

type flowResponse struct {
	registration.State
	PopupURL string `json:"popup_url,omitempty"`
}

// Flow handles GET /auth/flow. With ?after=<step> it waits (up to ?wait, at
// most maxFlowWait) for the flow to move past that step. A finished flow is
// reported once: the first poll to see it takes it out of the registry and,
// on Complete, receives the session cookie.
func (h *PortalHandler) Flow(w http.ResponseWriter, r *http.Request) {
	m, ok := h.flow(r)
	if !ok {
		writeError(w, http.StatusNotFound, apperrors.CodeNotFound, "No registration is in progress.")
		return
	}

	st := m.State()
	if after := r.URL.Query().Get("after"); after != "" {
		wait := maxFlowWait
		if d, err := time.ParseDuration(r.URL.Query().Get("wait")); err == nil && d > 0 && d < wait {
			wait = d
		}
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		st, _ = m.Wait(ctx, registration.Step(after))
		cancel()
	}

	resp := flowResponse{State: st}
	switch {
	case st.Step == registration.StepLinkingSecondary:
		if st.SessionID != "" {
			resp.PopupURL, _ = h.deps.Consent.Pending(st.SessionID)
		}
	case st.Step.Terminal():
		if !h.deps.Flows.Remove(m) {
			writeError(w, http.StatusNotFound, apperrors.CodeNotFound, "No registration is in progress.")
			return
		}
		if st.Step == registration.StepComplete && st.SessionID != "" {
			h.deps.Sessions.SetSessionCookie(w, st.SessionID)
		}
		h.deps.Sessions.ClearFlowCookie(w)
	}

	writeJSON(w, http.StatusOK, resp)
}

// flow returns the mounted flow the request's cookie is bound to.
func (h *PortalHandler) flow(r *http.Request) (*registration.Machine, bool) {
	flowID, ok := h.deps.Sessions.FlowID(r)
	if !ok {
		return nil, false
	}
	return h.deps.Flows.Get(flowID)
}

// PopupCallback handles GET /auth/popup/{provider}/callback, the secondary
// provider's redirect into the consent popup.
func (h *PortalHandler) PopupCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider := chi.URLParam(r, "provider")

	err := h.deps.Consent.Complete(r.Context(), provider, q.Get("state"), q.Get("code"), q.Get("error"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
	case errors.Is(err, consent.ErrUnknownPrompt):
		writeError(w, http.StatusBadRequest, "unknown_prompt", "This window has expired. Close it and try again.")
	case consent.IsCancelled(err):
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	default:
		writeError(w, http.StatusBadGateway, "link_failed", "Linking failed. Close this window and try again.")
	}
}

// DismissPopup handles POST /auth/popup/dismiss: the browser reports that the
// user closed the consent popup.
func (h *PortalHandler) DismissPopup(w http.ResponseWriter, r *http.Request) {
	m, ok := h.flow(r)
	if !ok {
		writeError(w, http.StatusNotFound, apperrors.CodeNotFound, "No registration is in progress.")
		return
	}

	st := m.State()
	if st.SessionID == "" || !h.deps.Consent.Dismiss(st.SessionID) {
		writeError(w, http.StatusNotFound, apperrors.CodeNotFound, "No popup is open.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SignInStart handles GET /auth/google/start: a returning voter signs in
// with the Google account linked at registration.
func (h *PortalHandler) SignInStart(w http.ResponseWriter, r *http.Request) {
	id, authURL, err := h.deps.SignIn.Begin(r.Context())
	if err != nil {
		h.logger.Error("failed to start sign-in", "error", err)
		writeError(w, http.StatusInternalServerError, apperrors.CodeInternal, "Sign-in could not be started. Please try again.")
		return
	}

	h.deps.Sessions.SetSignInCookie(w, id)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// SignInCallback handles GET /auth/google/callback.
func (h *PortalHandler) SignInCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pendingID, _ := h.deps.Sessions.SignInID(r)
	h.deps.Sessions.ClearSignInCookie(w)

	session, err := h.deps.SignIn.Finish(r.Context(), pendingID, signin.Callback{
		State: q.Get("state"),
		Code:  q.Get("code"),
		Error: q.Get("error"),
		Meta:  clientMeta(r),
	})
	switch {
	case err == nil:
		h.deps.Sessions.SetSessionCookie(w, session.ID)
		writeJSON(w, http.StatusOK, h.deps.Observer.Current(r.Context(), session))
	case errors.Is(err, signin.ErrNoPendingSignIn):
		writeError(w, http.StatusBadRequest, apperrors.CodeMissingFlowData, "Your sign-in attempt could not be found. Please start again.")
	case consent.IsCancelled(err):
		writeError(w, http.StatusUnauthorized, "sign_in_cancelled", "Sign-in was cancelled.")
	case apperrors.IsCode(err, apperrors.CodeUnauthorized):
		writeError(w, http.StatusUnauthorized, "not_registered", "No voter is registered with this Google account. Register with Kenni.is first.")
	default:
		writeAppError(w, err)
	}
}

// SignOut handles POST /auth/signout.
func (h *PortalHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	session, err := h.deps.Sessions.GetSessionFromRequest(r.Context(), r)
	if err == nil {
		if err := h.deps.Platform.SignOut(r.Context(), session.ID); err != nil {
			h.logger.Error("sign out failed", "error", err)
		}
	}
	h.deps.Sessions.ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/me.
func (h *PortalHandler) Me(w http.ResponseWriter, r *http.Request) {
	session, err := h.deps.Sessions.GetSessionFromRequest(r.Context(), r)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.deps.Observer.Current(r.Context(), session))
}

type eligibilityRequest struct {
	SSN string `json:"ssn"`
}

// CheckEligibility handles POST /api/eligibility.
func (h *PortalHandler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	var req eligibilityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}

	key := h.lockoutKey(r)
	if h.deps.Lockout.IsLocked(key) {
		writeLocked(w, h.deps.Lockout.GetLockoutRemaining(key))
		return
	}

	record, err := h.deps.Eligibility.Verify(r.Context(), req.SSN)
	verdict := eligibility.Assess(record, err)

	switch verdict.Outcome {
	case eligibility.OutcomeEligible:
		h.deps.Lockout.RecordSuccess(key)
	case eligibility.OutcomeIneligible, eligibility.OutcomeInvalid:
		if h.deps.Lockout.RecordFailure(key) {
			h.logger.Warn("eligibility lookups locked", "client", key)
		}
	}

	writeJSON(w, http.StatusOK, verdict)
}

// BypassSignIn handles POST /auth/dev/eligibility-login.
func (h *PortalHandler) BypassSignIn(w http.ResponseWriter, r *http.Request) {
	var req eligibilityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}

	session, verdict, err := h.deps.Bypass.SignIn(r.Context(), req.SSN, clientMeta(r))
	if err != nil {
		writeAppError(w, err)
		return
	}
	if session == nil {
		writeJSON(w, http.StatusForbidden, verdict)
		return
	}

	h.deps.Sessions.SetSessionCookie(w, session.ID)
	writeJSON(w, http.StatusOK, verdict)
}

// lockoutKey identifies the client for lookup lockout: its session when
// signed in, its address otherwise.
func (h *PortalHandler) lockoutKey(r *http.Request) string {
	if c, err := r.Cookie(auth.SessionCookieName); err == nil && c.Value != "" {
		return "session:" + c.Value
	}
	return "ip:" + clientIP(r)
}

func writeLocked(w http.ResponseWriter, remaining time.Duration) {
	w.Header().Set("Retry-After", retryAfter(remaining))
	writeError(w, http.StatusTooManyRequests, apperrors.CodeRateLimited, "Too many failed lookups. Please try again later.")
}

func retryAfter(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
