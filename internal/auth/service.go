package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vetor-crm/vetor-crm/internal/access"
	"github.com/vetor-crm/vetor-crm/internal/heartbeat"
	"github.com/vetor-crm/vetor-crm/internal/identity"
	"github.com/vetor-crm/vetor-crm/internal/observability"
	"github.com/vetor-crm/vetor-crm/internal/presence"
	"github.com/vetor-crm/vetor-crm/internal/sessionregistry"
	"github.com/vetor-crm/vetor-crm/internal/shared"
)

// IdentityProvider is the slice of the identity authority used during login.
type IdentityProvider interface {
	Login(ctx context.Context, email, password string) (identity.LoginResult, error)
}

// SessionRegistry is the slice of the remote registry used by auth flows.
type SessionRegistry interface {
	Register(ctx context.Context, sess sessionregistry.Session) error
	Remove(ctx context.Context, userID int64) error
}

// Service orchestrates the authenticated-session lifecycle: it owns the
// creation and teardown of the per-session permission store, the heartbeat
// and the registry entry.
type Service struct {
	idp           IdentityProvider
	grants        access.GrantSource
	registry      SessionRegistry
	evaluators    *access.Evaluators
	heartbeats    *heartbeat.Manager
	presence      *presence.Tracker
	permissionTTL time.Duration
	metrics       *observability.Metrics
	logger        *slog.Logger
}

// ServiceConfig groups the Service dependencies.
type ServiceConfig struct {
	IdentityProvider IdentityProvider
	GrantSource      access.GrantSource
	Registry         SessionRegistry
	Evaluators       *access.Evaluators
	Heartbeats       *heartbeat.Manager
	Presence         *presence.Tracker
	PermissionTTL    time.Duration
	Metrics          *observability.Metrics
	Logger           *slog.Logger
}

// NewService constructs a new Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		idp:           cfg.IdentityProvider,
		grants:        cfg.GrantSource,
		registry:      cfg.Registry,
		evaluators:    cfg.Evaluators,
		heartbeats:    cfg.Heartbeats,
		presence:      cfg.Presence,
		permissionTTL: cfg.PermissionTTL,
		metrics:       cfg.Metrics,
		logger:        logger,
	}
}

// Login performs the full login sequence: exchange credentials, prime a fresh
// permission store for the session, register the active session and start
// liveness reporting. Registry and presence failures degrade with a warning;
// only credential or auth rejections abort the login.
func (s *Service) Login(ctx context.Context, email, password string) (*User, error) {
	res, err := s.idp.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:        res.UserID,
		Name:      res.Name,
		Email:     res.Email,
		GroupName: res.GroupName,
		Branch:    res.Branch,
		Token:     res.Token,
	}

	// Everything after the credential exchange authenticates upstream with
	// the token it produced: the grant fetch, the registry entry and every
	// heartbeat ping.
	ctx = shared.ContextWithToken(ctx, res.Token)

	// A fresh store per login: invalidated and replaced wholesale, never
	// inherited from a previous user on the same device.
	store := access.NewStore(s.grants, s.permissionTTL, s.logger)
	store.SetLoadObserver(s.metrics.ObservePermissionLoad)
	eval := access.NewEvaluator(store, user.ID)
	s.evaluators.Put(user.ID, eval)

	if err := eval.Refresh(ctx); err != nil {
		if errors.Is(err, shared.ErrAuth) {
			s.evaluators.Remove(user.ID)
			return nil, err
		}
		// No snapshot: every permission check fails closed until a later
		// refresh succeeds. Login still completes.
		s.logger.Warn("prime permissions failed",
			slog.Int64("user_id", user.ID),
			slog.Any("error", err))
	}

	if err := s.registry.Register(ctx, sessionregistry.Session{
		UserID: user.ID,
		Name:   user.Name,
		Email:  user.Email,
		Group:  user.GroupName,
	}); err != nil {
		s.logger.Warn("register active session", slog.Any("error", err))
	}

	s.heartbeats.Start(ctx, user.ID)

	if s.presence != nil {
		if err := s.presence.MarkActive(ctx, user.ID); err != nil {
			s.logger.Warn("presence mark active", slog.Any("error", err))
		}
	}

	return user, nil
}

// Logout tears the session down: remove the registry entry, stop the
// heartbeat and discard the permission store. Every step is best effort.
func (s *Service) Logout(ctx context.Context, userID int64) {
	if err := s.registry.Remove(ctx, userID); err != nil {
		s.logger.Warn("remove active session", slog.Any("error", err))
	}
	s.heartbeats.Stop(userID)
	s.evaluators.Remove(userID)
	if s.presence != nil {
		if err := s.presence.MarkGone(ctx, userID); err != nil {
			s.logger.Warn("presence mark gone", slog.Any("error", err))
		}
	}
}
