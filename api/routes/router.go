package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/formpay/api/controllers"
	"github.com/angelmondragon/formpay/api/middleware"
	checkoutsvc "github.com/angelmondragon/formpay/internal/checkout"
	"github.com/angelmondragon/formpay/internal/submissions"
	"github.com/angelmondragon/formpay/internal/webforms"
	"github.com/angelmondragon/formpay/pkg/config"
	"github.com/angelmondragon/formpay/pkg/logger"
	"github.com/angelmondragon/formpay/pkg/metrics"
	pkgredis "github.com/angelmondragon/formpay/pkg/redis"
)

// RedisStore is the Redis surface used by the HTTP layer.
type RedisStore interface {
	pkgredis.IdempotencyStore
	middleware.RateLimitStore
	controllers.Pinger
}

// Deps groups the services mounted by the router.
type Deps struct {
	DB          controllers.Pinger
	Redis       RedisStore
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics
	Webforms    webforms.Service
	Checkout    checkoutsvc.Service
	Submissions submissions.Service
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg, deps.HTTPMetrics),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.RateLimit.CheckoutWindow,
		cfg.RateLimit.CheckoutIPLimit,
	)

	var redisPinger controllers.Pinger
	var limiter middleware.RateLimitStore
	var idempotencyStore pkgredis.IdempotencyStore
	if deps.Redis != nil {
		redisPinger = deps.Redis
		limiter = deps.Redis
		idempotencyStore = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, redisPinger))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/assets/checkout.js", controllers.CheckoutScript())

	idempotent := middleware.Idempotency(idempotencyStore, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(checkoutPolicy, limiter, logg), idempotent).
			Post("/checkout/sessions", controllers.CheckoutSession(deps.Checkout, logg))

		r.With(idempotent).Put("/webforms/{webformID}", controllers.WebformUpsert(deps.Webforms, logg))
		r.Get("/webforms/{webformID}/amount-elements", controllers.WebformAmountElements(deps.Webforms, logg))
		r.Post("/webforms/{webformID}/checkout-config", controllers.CheckoutConfig(deps.Checkout, logg))
		r.With(idempotent).Post("/webforms/{webformID}/submissions", controllers.SubmissionCreate(deps.Submissions, logg))
		r.Get("/webforms/{webformID}/submissions/{submissionID}/payment", controllers.SubmissionPayment(deps.Submissions, logg))
	})

	return r
}
