// Package httpapi is the fiber surface: provider webhooks and the
// authenticated billing routes.
package httpapi

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-reconciler/command"
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/inbound"
)

// Commands are the go-command handlers behind the billing routes.
type Commands struct {
	CreateSubscription *command.CreateSubscriptionCommand
	CancelSubscription *command.CancelSubscriptionCommand
	CreateOrder        *command.CreateOrderCommand
	VerifyPayment      *command.VerifyPaymentCommand
	RecordReferral     *command.RecordReferralCommand
}

// NewCommands builds every billing command over service.
func NewCommands(service command.BillingService) Commands {
	return Commands{
		CreateSubscription: command.NewCreateSubscriptionCommand(service),
		CancelSubscription: command.NewCancelSubscriptionCommand(service),
		CreateOrder:        command.NewCreateOrderCommand(service),
		VerifyPayment:      command.NewVerifyPaymentCommand(service),
		RecordReferral:     command.NewRecordReferralCommand(service),
	}
}

type Config struct {
	Webhooks *inbound.Dispatcher
	// SyncIdentityWebhooks handles identity deliveries inside the request.
	SyncIdentityWebhooks bool
	Auth                 *Authenticator
	Commands             Commands
	DefaultPlanID        string
	Logger               core.Logger
}

type Server struct {
	webhooks      *inbound.Dispatcher
	syncIdentity  bool
	auth          *Authenticator
	commands      Commands
	defaultPlanID string
	validate      *validator.Validate
	logger        core.Logger
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	return &Server{
		webhooks:      cfg.Webhooks,
		syncIdentity:  cfg.SyncIdentityWebhooks,
		auth:          cfg.Auth,
		commands:      cfg.Commands,
		defaultPlanID: cfg.DefaultPlanID,
		validate:      validator.New(),
		logger:        logger,
	}
}

// App returns a fiber app with the routes mounted.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler(s.logger),
		DisableStartupMessage: true,
	})
	s.Register(app)
	return app
}

func (s *Server) Register(router fiber.Router) {
	router.Post("/webhooks/identity", s.identityWebhook)
	router.Post("/payments/webhook", s.paymentWebhook)

	v1 := router.Group("/v1", s.auth.Middleware())
	v1.Post("/subscriptions", s.createSubscription)
	v1.Post("/subscriptions/:id/cancel", s.cancelSubscription)
	v1.Post("/billing/orders", s.createOrder)
	v1.Put("/billing/verify", s.verifyPayment)
	v1.Post("/referrals", s.recordReferral)
}
