// Package identity applies identity provider user lifecycle events to local
// users, companies and memberships.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-reconciler/core"
)

type Option func(*Handler)

func WithLogger(logger core.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithRetry(retry core.RetryExecutor) Option {
	return func(h *Handler) {
		h.retry = retry
	}
}

func WithSyncer(syncer core.MetadataSyncer) Option {
	return func(h *Handler) {
		h.syncer = syncer
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(h *Handler) {
		h.metrics = metrics
	}
}

func WithDefaults(defaults core.DefaultsConfig) Option {
	return func(h *Handler) {
		if v := strings.TrimSpace(defaults.Currency); v != "" {
			h.currency = v
		}
		if v := strings.TrimSpace(defaults.UserRole); v != "" {
			h.userRole = v
		}
		if v := strings.TrimSpace(defaults.AdminRole); v != "" {
			h.adminRole = v
		}
	}
}

// Handler reconciles user.created, user.updated and user.deleted. Every
// operation is idempotent so redelivered or reordered events converge.
type Handler struct {
	uow      core.UnitOfWork
	retry    core.RetryExecutor
	syncer   core.MetadataSyncer
	logger   core.Logger
	metrics  core.MetricsRecorder
	observer *core.Observer

	currency  string
	userRole  string
	adminRole string
}

func NewHandler(uow core.UnitOfWork, opts ...Option) *Handler {
	h := &Handler{
		uow: uow,
		retry: core.RetryExecutor{
			MaxAttempts: 3,
			Backoff:     core.FixedBackoffScheduler{Delay: time.Second},
			Classifier:  core.IsTransient,
		},
		logger:    glog.Nop(),
		currency:  core.DefaultCurrencyCode,
		userRole:  core.DefaultUserRole,
		adminRole: core.DefaultAdminRole,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.observer = core.NewObserver(h.logger, h.metrics)
	return h
}

// Handle is the webhook entry point.
func (h *Handler) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	event, err := ParseEvent(req.Body)
	if err != nil {
		return core.InboundResult{StatusCode: http.StatusBadRequest}, err
	}
	if err := h.HandleEvent(ctx, event); err != nil {
		return core.InboundResult{}, err
	}
	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Metadata:   map[string]any{"event_type": event.Type, "user_id": event.Data.ID},
	}, nil
}

func (h *Handler) HandleEvent(ctx context.Context, event Event) (err error) {
	startedAt := time.Now()
	defer func() {
		h.observer.Observe(ctx, startedAt, "identity.handle_event", err, map[string]any{
			"provider_id": core.ProviderIdentity,
			"event_type":  event.Type,
			"user_id":     event.Data.ID,
		})
	}()

	switch event.Type {
	case core.IdentityEventUserCreated:
		_, _, err = h.EnsureUser(ctx, event.Data.ProviderUser())
	case core.IdentityEventUserUpdated:
		err = h.UpdateUser(ctx, event.Data.ProviderUser())
	case core.IdentityEventUserDeleted:
		err = h.DeleteUser(ctx, event.Data.ID)
	default:
		h.logger.Info("identity event ignored", "event_type", event.Type, "user_id", event.Data.ID)
	}
	return err
}

// EnsureUser creates the local user for subject when it does not exist yet,
// bootstrapping its company and membership in the same transaction. The
// webhook and lazy creation share it.
func (h *Handler) EnsureUser(ctx context.Context, subject core.ProviderUser) (core.User, bool, error) {
	if h == nil || h.uow == nil {
		return core.User{}, false, fmt.Errorf("identity: handler requires a unit of work")
	}
	subject.ID = strings.TrimSpace(subject.ID)
	if subject.ID == "" {
		return core.User{}, false, core.BadInput("identity: user id is required", nil)
	}
	domain := core.EmailDomain(subject.Email)
	if domain == "" {
		return core.User{}, false, core.BadInput("identity: user email is required", map[string]any{"user_id": subject.ID})
	}

	var (
		user    core.User
		created bool
	)
	err := h.retry.Do(ctx, func(ctx context.Context) error {
		created = false
		return h.uow.RunInTx(ctx, func(ctx context.Context, stores core.StoreProvider) error {
			existing, err := stores.UserStore().Get(ctx, subject.ID)
			if err == nil {
				user = existing
				return nil
			}
			if !core.IsNotFound(err) {
				return err
			}

			currency, _, err := stores.CurrencyStore().Ensure(ctx, h.currency)
			if err != nil {
				return err
			}
			companyID, roleName, err := h.resolveCompany(ctx, stores, domain, currency.ID)
			if err != nil {
				return err
			}
			role, _, err := stores.RoleStore().Ensure(ctx, roleName)
			if err != nil {
				return err
			}
			user, err = stores.UserStore().Create(ctx, core.CreateUserInput{
				ID:          subject.ID,
				DisplayName: core.DisplayName(subject.FirstName, subject.LastName),
				Email:       subject.Email,
				RoleID:      role.ID,
				CompanyID:   companyID,
			})
			if err != nil {
				return err
			}
			if _, _, err := stores.MembershipStore().Ensure(ctx, subject.ID, companyID, roleName, false); err != nil {
				return err
			}
			created = true
			return nil
		})
	})
	if err != nil {
		return core.User{}, false, err
	}
	if created {
		h.logger.Info("identity user bootstrapped",
			"user_id", user.ID,
			"company_id", user.CompanyID,
		)
		h.syncBestEffort(ctx, user.ID)
	}
	return user, created, nil
}

// resolveCompany reuses the home company of a user with the same email
// domain. Without one it ensures the domain's placeholder company; whoever
// creates it becomes its admin.
func (h *Handler) resolveCompany(
	ctx context.Context,
	stores core.StoreProvider,
	domain string,
	currencyID string,
) (string, string, error) {
	peer, err := stores.UserStore().FindByEmailDomain(ctx, domain)
	switch {
	case err == nil && peer.DefaultCompanyID != "":
		return peer.DefaultCompanyID, h.userRole, nil
	case err != nil && !core.IsNotFound(err):
		return "", "", err
	}

	company, created, err := stores.CompanyStore().EnsureForDomain(ctx, domain, currencyID)
	if err != nil {
		return "", "", err
	}
	if created {
		return company.ID, h.adminRole, nil
	}
	return company.ID, h.userRole, nil
}

// UpdateUser refreshes the profile of a known user. A company_id in public
// metadata that differs from the current company switches the user to it.
func (h *Handler) UpdateUser(ctx context.Context, subject core.ProviderUser) error {
	if h == nil || h.uow == nil {
		return fmt.Errorf("identity: handler requires a unit of work")
	}
	subject.ID = strings.TrimSpace(subject.ID)
	targetCompany := CompanyIDFromMetadata(subject.PublicMetadata)

	found := false
	err := h.retry.Do(ctx, func(ctx context.Context) error {
		found = false
		return h.uow.RunInTx(ctx, func(ctx context.Context, stores core.StoreProvider) error {
			user, err := stores.UserStore().Get(ctx, subject.ID)
			if core.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			found = true

			email := strings.TrimSpace(subject.Email)
			if email == "" {
				email = user.Email
			}
			if err := stores.UserStore().UpdateProfile(ctx, user.ID, core.DisplayName(subject.FirstName, subject.LastName), email); err != nil {
				return err
			}

			if targetCompany == "" || targetCompany == user.CompanyID {
				return nil
			}
			if _, err := stores.CompanyStore().Get(ctx, targetCompany); err != nil {
				if core.IsNotFound(err) {
					h.logger.Warn("identity company switch skipped, company not found",
						"user_id", user.ID,
						"company_id", targetCompany,
					)
					return nil
				}
				return err
			}
			if err := stores.UserStore().SetCompany(ctx, user.ID, targetCompany); err != nil {
				return err
			}
			_, _, err = stores.MembershipStore().Ensure(ctx, user.ID, targetCompany, h.userRole, false)
			return err
		})
	})
	if err != nil {
		return err
	}
	if !found {
		h.logger.Debug("identity update for unknown user dropped", "user_id", subject.ID)
		return nil
	}
	h.syncBestEffort(ctx, subject.ID)
	return nil
}

// DeleteUser removes the user's home company, cascading to everything the
// company owns, and then the user. Unknown users are a no-op.
func (h *Handler) DeleteUser(ctx context.Context, id string) error {
	if h == nil || h.uow == nil {
		return fmt.Errorf("identity: handler requires a unit of work")
	}
	id = strings.TrimSpace(id)

	var user core.User
	err := h.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		user, err = h.uow.UserStore().Get(ctx, id)
		return err
	})
	if core.IsNotFound(err) {
		h.logger.Debug("identity delete for unknown user dropped", "user_id", id)
		return nil
	}
	if err != nil {
		return err
	}

	if user.DefaultCompanyID != "" {
		err = h.retry.Do(ctx, func(ctx context.Context) error {
			return h.uow.RunInTx(ctx, func(ctx context.Context, stores core.StoreProvider) error {
				return stores.CompanyStore().Delete(ctx, user.DefaultCompanyID)
			})
		})
		if err != nil {
			return err
		}
	}
	return h.retry.Do(ctx, func(ctx context.Context) error {
		return h.uow.RunInTx(ctx, func(ctx context.Context, stores core.StoreProvider) error {
			return stores.UserStore().Delete(ctx, user.ID)
		})
	})
}

func (h *Handler) syncBestEffort(ctx context.Context, userID string) {
	if h.syncer == nil {
		return
	}
	h.syncer.SyncBestEffort(ctx, userID)
}
