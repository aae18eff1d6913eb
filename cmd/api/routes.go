package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/noah-isme/vaayugo-api/internal/auth"
	"github.com/noah-isme/vaayugo-api/internal/cart"
	"github.com/noah-isme/vaayugo-api/internal/common"
	"github.com/noah-isme/vaayugo-api/internal/health"
	"github.com/noah-isme/vaayugo-api/internal/obs"
	"github.com/noah-isme/vaayugo-api/internal/order"
	"github.com/noah-isme/vaayugo-api/internal/ratelimit"
	"github.com/noah-isme/vaayugo-api/internal/rules"
	"github.com/noah-isme/vaayugo-api/internal/security"
	"github.com/noah-isme/vaayugo-api/internal/shop"
)

// routes bundles everything the router needs. Optional members are skipped when nil.
type routes struct {
	Logger         zerolog.Logger
	AllowedOrigins []string
	Tracing        bool
	HTTPMetrics    *obs.HTTPMetrics
	Metrics        http.Handler
	Pprof          http.Handler
	GlobalLimit    func(http.Handler) http.Handler
	CalcLimit      ratelimit.Handler
	BodyLimit      int64
	Headers        security.Headers
	Idem           common.Idem

	Auth   auth.Middleware
	Health health.Handler
	Cart   *cart.Handler
	Orders *order.Handler
	Rules  *rules.Handler
}

func (rt routes) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if rt.Tracing {
		r.Use(obs.Tracing("vaayugo-api"))
	}
	if rt.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: rt.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: rt.Logger, Quiet: []string{"/health/live", "/health/ready", "/metrics"}}.Middleware)
	r.Use(rt.Headers.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   originsOrAll(rt.AllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Total-Count", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if rt.Metrics != nil {
		r.Handle("/metrics", rt.Metrics)
	}
	if rt.Pprof != nil {
		r.Mount("/debug/pprof", rt.Pprof)
	}
	r.Get("/health/live", rt.Health.Live)
	r.Get("/health/ready", rt.Health.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		if rt.GlobalLimit != nil {
			v.Use(rt.GlobalLimit)
		}
		v.Use(security.BodyLimit{Max: rt.BodyLimit, JSONOnly: true}.Middleware)

		v.Group(func(pub chi.Router) {
			pub.Use(rt.Auth.Authenticate)
			pub.With(rt.CalcLimit.Middleware).Post("/cart/calculate", rt.Cart.Calculate)
		})

		v.Group(func(authR chi.Router) {
			authR.Use(rt.Auth.RequireAuth)
			authR.With(rt.Idem.Middleware).Post("/orders", rt.Orders.Place)
			authR.Get("/orders", rt.Orders.List)
			authR.Get("/orders/{id}", rt.Orders.Get)

			authR.Route("/shops/{shopID}/discount-rules", func(s chi.Router) {
				s.Use(rt.Rules.RequireShopOwner)
				s.Get("/", rt.Rules.ListDiscounts)
				s.Post("/", rt.Rules.CreateDiscount)
				s.Get("/{id}", rt.Rules.GetDiscount)
				s.Put("/{id}", rt.Rules.UpdateDiscount)
				s.Delete("/{id}", rt.Rules.DeleteDiscount)
			})
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(rt.Auth.RequireAuth)
			admin.Use(rt.Auth.RequireRole(shop.RoleAdmin))
			admin.Get("/discount-rules", rt.Rules.ListDiscounts)
			admin.Post("/discount-rules", rt.Rules.CreateDiscount)
			admin.Get("/discount-rules/{id}", rt.Rules.GetDiscount)
			admin.Put("/discount-rules/{id}", rt.Rules.UpdateDiscount)
			admin.Delete("/discount-rules/{id}", rt.Rules.DeleteDiscount)
			admin.Get("/delivery-fee-rules", rt.Rules.ListDelivery)
			admin.Post("/delivery-fee-rules", rt.Rules.CreateDelivery)
			admin.Get("/delivery-fee-rules/{id}", rt.Rules.GetDelivery)
			admin.Put("/delivery-fee-rules/{id}", rt.Rules.UpdateDelivery)
			admin.Delete("/delivery-fee-rules/{id}", rt.Rules.DeleteDelivery)
			admin.Patch("/orders/{id}/status", rt.Orders.PatchStatus)
		})
	})
	return r
}

func originsOrAll(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
