// Package observer keeps a role-bearing view of every live session in step
// with the identity platform.
package observer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sosi/kosningakerfi/internal/crypto"
	"github.com/sosi/kosningakerfi/internal/domain"
	"github.com/sosi/kosningakerfi/internal/identity"
	"github.com/sosi/kosningakerfi/internal/metrics"
)

// Source is the identity platform surface the observer consumes.
type Source interface {
	Subscribe(fn func(identity.Change)) (unsubscribe func())
	FreshClaims(ctx context.Context, sessionID string) (*crypto.Claims, error)
}

// View is what the UI is told about a session.
type View struct {
	SessionID   string      `json:"-"`
	UserID      string      `json:"user_id"`
	DisplayName string      `json:"display_name,omitempty"`
	Role        domain.Role `json:"role"`
	Bypass      bool        `json:"bypass,omitempty"`
}

// Observer reflects session changes into Views.
type Observer struct {
	src    Source
	logger *slog.Logger

	mu          sync.RWMutex
	views       map[string]View
	unsubscribe func()
	ctx         context.Context
}

// New creates an Observer. Call Start to begin observing.
func New(src Source, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		src:    src,
		logger: logger,
		views:  make(map[string]View),
	}
}

// Start subscribes to session changes. ctx bounds claim fetches made on
// behalf of notifications.
func (o *Observer) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.unsubscribe != nil {
		return
	}
	o.ctx = ctx
	o.unsubscribe = o.src.Subscribe(o.handle)
}

// Stop unsubscribes and forgets every view.
func (o *Observer) Stop() {
	o.mu.Lock()
	unsubscribe := o.unsubscribe
	o.unsubscribe = nil
	o.views = make(map[string]View)
	metrics.SetActiveSessions(0)
	o.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Current returns the view of session. A session the observer has not seen
// yet is resolved on demand; if its claims cannot be fetched it is shown as
// a voter and resolved again on the next call.
func (o *Observer) Current(ctx context.Context, session *domain.Session) View {
	o.mu.RLock()
	v, ok := o.views[session.ID]
	o.mu.RUnlock()
	if ok {
		return v
	}

	v, err := o.resolve(ctx, session.ID, session.UserID)
	if err != nil {
		return v
	}
	o.mu.Lock()
	o.views[session.ID] = v
	metrics.SetActiveSessions(len(o.views))
	o.mu.Unlock()
	return v
}

func (o *Observer) handle(c identity.Change) {
	switch c.Kind {
	case identity.SignedOut:
		o.mu.Lock()
		delete(o.views, c.SessionID)
		metrics.SetActiveSessions(len(o.views))
		o.mu.Unlock()

	case identity.SignedIn:
		o.refresh(c.SessionID, c.UserID)

	case identity.ClaimsChanged:
		o.mu.RLock()
		var ids []string
		for id, v := range o.views {
			if v.UserID == c.UserID {
				ids = append(ids, id)
			}
		}
		o.mu.RUnlock()

		for _, id := range ids {
			o.refresh(id, c.UserID)
		}
	}
}

func (o *Observer) refresh(sessionID, userID string) {
	o.mu.RLock()
	ctx := o.ctx
	o.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	v, _ := o.resolve(ctx, sessionID, userID)
	o.mu.Lock()
	o.views[sessionID] = v
	metrics.SetActiveSessions(len(o.views))
	o.mu.Unlock()
}

// resolve fetches fresh claims. On failure it returns a voter view of userID
// along with the error.
func (o *Observer) resolve(ctx context.Context, sessionID, userID string) (View, error) {
	claims, err := o.src.FreshClaims(ctx, sessionID)
	if err != nil {
		o.logger.Warn("claims fetch failed, treating session as voter",
			"user_id", userID,
			"error", err,
		)
		return View{SessionID: sessionID, UserID: userID, Role: domain.RoleVoter}, err
	}

	return View{
		SessionID:   sessionID,
		UserID:      claims.Subject,
		DisplayName: claims.Name,
		Role:        claims.Role(),
		Bypass:      claims.Bypass,
	}, nil
}
