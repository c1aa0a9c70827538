package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roboricindustries/rescue-events/pkg/gateway"
	"github.com/roboricindustries/rescue-events/pkg/notify"
	"github.com/roboricindustries/rescue-events/pkg/pubsub"
	"github.com/roboricindustries/rescue-events/pkg/schemas/common"
	"github.com/roboricindustries/rescue-events/pkg/schemas/notifications"
	"github.com/roboricindustries/rescue-events/pkg/schemas/requests"
	"github.com/roboricindustries/rescue-events/pkg/store"
)

var (
	ErrClosed      = errors.New("session closed")
	ErrNotMechanic = errors.New("operation requires a mechanic account")
)

type Config struct {
	API     gateway.API
	Channel *notify.Client
	Logger  *slog.Logger
	// Now stamps leads; defaults to time.Now.
	Now func() time.Time
	// OnExpired is called once when the backend rejects the token.
	OnExpired func(error)
	// OnNotification sees every notification after the stores were updated.
	OnNotification func(notifications.Notification)
}

// Session is everything that lives between login and logout: the user,
// the notification channel and the stores it feeds.
type Session struct {
	api       gateway.API
	ch        *notify.Client
	log       *slog.Logger
	now       func() time.Time
	onExpired func(error)
	onNote    func(notifications.Notification)

	user gateway.User
	id   pubsub.Identity

	Notifications *store.Notifications
	Requests      *store.Requests
	Leads         *store.Leads

	mu      sync.Mutex
	sub     *pubsub.Subscription[notifications.Notification]
	closed  bool
	expired sync.Once
}

func New(cfg Config, user gateway.User) (*Session, error) {
	if cfg.API == nil || cfg.Channel == nil {
		return nil, errors.New("session: api and channel are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	id := pubsub.Identity{UserID: user.ID, Role: user.RecipientRole()}
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return &Session{
		api:           cfg.API,
		ch:            cfg.Channel,
		log:           logger.With("component", "session", "user", user.ID),
		now:           cfg.Now,
		onExpired:     cfg.OnExpired,
		onNote:        cfg.OnNotification,
		user:          user,
		id:            id,
		Notifications: store.NewNotifications(logger),
		Requests:      store.NewRequests(logger),
		Leads:         store.NewLeads(),
	}, nil
}

// Login authenticates and starts a session for the returned user.
func Login(ctx context.Context, cfg Config, in gateway.LoginRequest) (*Session, error) {
	if cfg.API == nil {
		return nil, errors.New("session: api is required")
	}
	auth, err := cfg.API.Login(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	s, err := New(cfg, auth.User)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		// nobody else holds s, so its channel and token go with it
		_ = s.Logout()
		return nil, err
	}
	return s, nil
}

// Resume starts a session for a token already set on the gateway.
func Resume(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.API == nil {
		return nil, errors.New("session: api is required")
	}
	user, err := cfg.API.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}
	s, err := New(cfg, user)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) User() gateway.User { return s.user }

func (s *Session) Identity() pubsub.Identity { return s.id }

func (s *Session) ChannelStatus() notify.Status { return s.ch.Status() }

func (s *Session) isMechanic() bool { return s.id.Role == common.Mechanic }

// Start opens the channel, routes its notifications into the stores and
// loads the user's requests.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	started := s.sub != nil
	s.mu.Unlock()

	if !started {
		if err := s.ch.Start(ctx, s.id); err != nil {
			return fmt.Errorf("session: start channel: %w", err)
		}
		sub, err := s.ch.Subscribe(s.route)
		if err != nil {
			return fmt.Errorf("session: subscribe: %w", err)
		}
		s.mu.Lock()
		s.sub = sub
		s.mu.Unlock()
	}
	return s.Refresh(ctx)
}

// Refresh replaces the request store with the backend's view.
func (s *Session) Refresh(ctx context.Context) error {
	list, err := s.api.MyRequests(ctx)
	if err != nil {
		return s.check(err)
	}
	s.Requests.SetAll(list)
	return nil
}

func (s *Session) CreateRequest(ctx context.Context, in requests.CreateInput) (requests.BreakdownRequest, error) {
	r, err := s.api.CreateRequest(ctx, in)
	if err != nil {
		return requests.BreakdownRequest{}, s.check(err)
	}
	s.Requests.Add(r)
	return r, nil
}

// Accept takes a lead. On success the lead leaves the staging area and the
// request is marked assigned to this mechanic.
func (s *Session) Accept(ctx context.Context, requestID string) error {
	if !s.isMechanic() {
		return ErrNotMechanic
	}
	if err := s.api.AcceptRequest(ctx, requestID); err != nil {
		return s.check(err)
	}
	lead, hadLead := s.Leads.Get(requestID)
	s.Leads.Remove(requestID)

	patch := requests.StatusPatch(requests.StatusAssigned)
	patch.MechanicID = &s.user.ID
	patch.MechanicName = &s.user.FullName
	if !s.Requests.ApplyUpdate(requestID, patch) && hadLead {
		s.Requests.Add(patch.Apply(requestFromLead(lead)))
	}
	return nil
}

func (s *Session) Reject(ctx context.Context, requestID string) error {
	if !s.isMechanic() {
		return ErrNotMechanic
	}
	if err := s.api.RejectRequest(ctx, requestID); err != nil {
		return s.check(err)
	}
	s.Leads.Remove(requestID)
	return nil
}

func (s *Session) Cancel(ctx context.Context, requestID string) error {
	if err := s.api.CancelRequest(ctx, requestID); err != nil {
		return s.check(err)
	}
	s.Requests.ApplyUpdate(requestID, requests.StatusPatch(requests.StatusCancelled))
	return nil
}

func (s *Session) Complete(ctx context.Context, requestID string, in requests.CompleteInput) error {
	if err := s.api.CompleteRequest(ctx, requestID, in); err != nil {
		return s.check(err)
	}
	patch := requests.StatusPatch(requests.StatusCompleted)
	patch.FinalAmount = &in.FinalAmount
	s.Requests.ApplyUpdate(requestID, patch)
	return nil
}

func (s *Session) SetAvailability(ctx context.Context, available bool) error {
	if !s.isMechanic() {
		return ErrNotMechanic
	}
	return s.check(s.api.UpdateAvailability(ctx, available))
}

func (s *Session) UpdateLocation(ctx context.Context, lat, lng float64) error {
	if !s.isMechanic() {
		return ErrNotMechanic
	}
	return s.check(s.api.UpdateLocation(ctx, lat, lng))
}

// Close drops the channel and empties the stores. It keeps the token.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		s.ch.Unsubscribe(sub)
	}
	err := s.ch.Close()
	s.Notifications.Clear()
	s.Requests.Clear()
	s.Leads.Clear()
	s.log.Info("session closed")
	return err
}

// Logout closes the session and forgets the token.
func (s *Session) Logout() error {
	err := s.Close()
	s.api.ClearToken()
	return err
}

// check tears the session down when err is a 401 and returns err unchanged.
func (s *Session) check(err error) error {
	if err == nil || !errors.Is(err, gateway.ErrUnauthorized) {
		return err
	}
	s.expired.Do(func() {
		s.log.Warn("token rejected, ending session", slog.Any("error", err))
		_ = s.Logout()
		if s.onExpired != nil {
			s.onExpired(err)
		}
	})
	return err
}

// route is the channel handler feeding the stores. It holds s.mu while
// writing so Close cannot clear the stores underneath it.
func (s *Session) route(n notifications.Notification) error {
	if !s.apply(n) {
		return nil
	}
	if s.onNote != nil {
		s.onNote(n)
	}
	return nil
}

func (s *Session) apply(n notifications.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.Notifications.Receive(n) {
		return false
	}
	ref := n.RequestRef()

	switch n.Type {
	case notifications.TypeNewRequestNearby:
		if offer, ok := n.Data.(notifications.NewRequestNearby); ok && s.isMechanic() {
			s.Leads.Stage(store.NewLead(n.ID, offer, s.now()))
		}
	case notifications.TypeLeadReassigned, notifications.TypeLeadExpired, notifications.TypeRequestCancelled:
		s.Leads.Remove(ref)
	case notifications.TypeMechanicAssigned, notifications.TypeRequestAccepted:
		p, ok := n.Data.(notifications.MechanicAssigned)
		if ok && s.isMechanic() && p.MechanicID != "" && p.MechanicID != s.user.ID {
			// someone else took it
			s.Leads.Remove(ref)
		}
	}

	if reqID, patch, ok := n.RequestUpdate(); ok {
		if !s.Requests.ApplyUpdate(reqID, patch) {
			s.log.Debug("request update not applied",
				slog.String("request", reqID),
				slog.String("type", string(n.Type)),
			)
		}
	}
	return true
}

func requestFromLead(l store.Lead) requests.BreakdownRequest {
	return requests.BreakdownRequest{
		ID:                l.RequestID(),
		Status:            requests.StatusSearching,
		IssueType:         l.Offer.IssueType,
		Description:       l.Offer.Description,
		Address:           l.Offer.Address,
		LocationLatitude:  l.Offer.CustomerLatitude,
		LocationLongitude: l.Offer.CustomerLongitude,
		CreatedAt:         l.ReceivedAt,
	}
}
