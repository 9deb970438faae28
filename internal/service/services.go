package service

import (
	"log/slog"

	"github.com/evroni/qrtab/internal/qr"
	redisx "github.com/evroni/qrtab/internal/redis"
	postgresrepo "github.com/evroni/qrtab/internal/repository/postgres"
	redisrepo "github.com/evroni/qrtab/internal/repository/redis"
	"github.com/evroni/qrtab/internal/service/admission"
	"github.com/evroni/qrtab/internal/service/lifecycle"
	"github.com/evroni/qrtab/internal/service/reconcile"
	"github.com/evroni/qrtab/internal/service/session"
)

type Services struct {
	Session   *session.Service
	Admission *admission.Service
	Lifecycle *lifecycle.Service
	Reconcile *reconcile.Service
}

type Config struct {
	Session   session.Config
	Admission admission.Config
	Reconcile reconcile.Config
}

func NewServices(
	store *postgresrepo.Store,
	cache *redisrepo.Cache,
	pubsub *redisx.OrdersPubSub,
	limiter *redisrepo.SlidingWindowLimiter,
	checkout reconcile.CheckoutClient,
	logger *slog.Logger,
	cfg Config,
) *Services {
	lc := lifecycle.New(lifecycle.NewStore(store), cache, pubsub)

	return &Services{
		Session:   session.New(store.Tenants(), store.Tables(), qr.NewCodec(), cache, cfg.Session),
		Admission: admission.New(admission.NewStore(store), cache, pubsub, limiter, cfg.Admission),
		Lifecycle: lc,
		Reconcile: reconcile.New(lc, checkout, logger, cfg.Reconcile),
	}
}
