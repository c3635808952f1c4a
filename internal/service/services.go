package service

import (
	"log/slog"

	redisrepo "github.com/kirinyoku/tix-checkout/internal/repository/redis"
	"github.com/kirinyoku/tix-checkout/internal/service/admin"
	"github.com/kirinyoku/tix-checkout/internal/service/inventory"
	"github.com/kirinyoku/tix-checkout/internal/service/notify"
	"github.com/kirinyoku/tix-checkout/internal/service/orders"
	"github.com/kirinyoku/tix-checkout/internal/service/payment"
	"github.com/kirinyoku/tix-checkout/internal/service/sweeper"
	"github.com/kirinyoku/tix-checkout/internal/service/tickets"
	"github.com/kirinyoku/tix-checkout/internal/service/webhook"
	"github.com/kirinyoku/tix-checkout/internal/uow"
)

type Services struct {
	Inventory *inventory.Ledger
	Orders    *orders.Service
	Tickets   *tickets.Service
	Webhook   *webhook.Processor
	Notify    *notify.Service
	Admin     *admin.Service
	Sweeper   *sweeper.Sweeper
}

type Config struct {
	Inventory inventory.Config
	Orders    orders.Config
	Sweeper   sweeper.Config
}

// Deps are the infrastructure pieces the services run on. Cache, PubSub,
// Limiter and Locker are optional.
type Deps struct {
	Store    uow.Store
	Cache    *redisrepo.Cache
	PubSub   *redisrepo.PubSub
	Limiter  *redisrepo.SlidingWindowLimiter
	Locker   *redisrepo.Locker
	Gateway  payment.Gateway
	Renderer tickets.Renderer
	Mailer   notify.Mailer
	Logger   *slog.Logger
}

func NewServices(d Deps, cfg Config) *Services {
	// typed nil pointers must not reach the services as non-nil interfaces
	var (
		invPub    inventory.Publisher
		statusPub orders.StatusPublisher
		limiter   orders.Limiter
		locker    sweeper.Locker
	)
	if d.PubSub != nil {
		invPub, statusPub = d.PubSub, d.PubSub
	}
	if d.Limiter != nil {
		limiter = d.Limiter
	}
	if d.Locker != nil {
		locker = d.Locker
	}

	ledger := inventory.New(d.Store, d.Cache, invPub, d.Logger.With("component", "inventory"), cfg.Inventory)
	notifier := notify.New(d.Store, d.Mailer, d.Logger.With("component", "notify"))
	ticketsSvc := tickets.New(d.Store, d.Renderer, notifier, d.Logger.With("component", "tickets"))

	ordersSvc := orders.New(orders.Deps{
		Store:    d.Store,
		Ledger:   ledger,
		Gateway:  d.Gateway,
		Tickets:  ticketsSvc,
		Notifier: notifier,
		PubSub:   statusPub,
		Limiter:  limiter,
		Log:      d.Logger.With("component", "orders"),
	}, cfg.Orders)

	processor := webhook.New(d.Store, d.Gateway, ordersSvc, notifier, d.Logger.With("component", "webhook"))

	return &Services{
		Inventory: ledger,
		Orders:    ordersSvc,
		Tickets:   ticketsSvc,
		Webhook:   processor,
		Notify:    notifier,
		Admin:     admin.New(d.Store, ledger),
		Sweeper: sweeper.New(sweeper.Deps{
			Repos:      d.Store,
			Orders:     ordersSvc,
			Reconciler: processor,
			Tickets:    ticketsSvc,
			Notifier:   notifier,
			Gateway:    d.Gateway,
			Locker:     locker,
			Log:        d.Logger.With("component", "sweeper"),
		}, cfg.Sweeper),
	}
}
