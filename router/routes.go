package router

import (
	"github.com/go-chi/chi/v5"

	"github.com/emreis/sanalpos/handler"
	"github.com/emreis/sanalpos/infra/middle"

	// concrete adapters self-register with the provider registry
	_ "github.com/emreis/sanalpos/provider/garanti"
	_ "github.com/emreis/sanalpos/provider/iyzico"
	_ "github.com/emreis/sanalpos/provider/payten"
	_ "github.com/emreis/sanalpos/provider/qnb"
	_ "github.com/emreis/sanalpos/provider/vakifbank"
	_ "github.com/emreis/sanalpos/provider/ykb"
)

// Routes wires the payment API and the public payment routes
func Routes(r chi.Router, payments *handler.PaymentHandler, public *handler.PublicHandler) {
	r.Get("/health", handler.Health)

	// bank- and browser-reachable routes, no API key
	r.Route("/payment", func(r chi.Router) {
		r.Get("/{id}/form", public.Form)
		r.Post("/{id}/callback", public.Callback)
	})

	// merchant API behind the gateway key
	r.Route("/api/payment", func(r chi.Router) {
		r.Use(middle.APIKeyMiddleware())
		r.Post("/bin", payments.QueryBin)
		r.Post("/pay", payments.Pay)
		r.Get("/{id}", payments.Get)
	})
}
