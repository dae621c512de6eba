// Package routes wires HTTP handlers onto a chi router behind huma's
// OpenAPI layer, mirroring the teacher's public/protected route-group
// split but collapsed to this pipeline's single shared-secret auth model.
package routes

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/sitewatch/internal/http/handlers"
	"github.com/jmylchreest/sitewatch/internal/http/mw"
)

// Handlers bundles every handler group registered by Register.
type Handlers struct {
	Probe    *handlers.ProbeHandler
	Trigger  *handlers.TriggerHandler
	Review   *handlers.ReviewHandler
	Read     *handlers.ReadHandler
	BaseURL  string
}

// Register mounts every route on router: public health/probe endpoints,
// then a bearer-secret-protected group for triggers, reviews, and reads.
func Register(router chi.Router, h *Handlers, sharedSecret string) {
	publicConfig := huma.DefaultConfig("thyme", "1.0.0")
	publicConfig.Info.Description = "Scheduled website-health surveillance pipeline for a single marketing site."
	publicConfig.Servers = []*huma.Server{{URL: h.BaseURL, Description: "API Server"}}
	publicConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearerAuth": {Type: "http", Scheme: "bearer", Description: "Shared trigger/review secret as a bearer token."},
	}
	api := humachi.New(router, publicConfig)

	huma.Get(api, "/api/v1/health", handlers.HealthCheck)

	hiddenConfig := huma.DefaultConfig("thyme", "1.0.0")
	hiddenConfig.DocsPath = ""
	hiddenConfig.OpenAPIPath = ""
	hiddenConfig.SchemasPath = ""
	hiddenAPI := humachi.New(router, hiddenConfig)
	huma.Get(hiddenAPI, "/healthz", h.Probe.Livez)
	huma.Get(hiddenAPI, "/readyz", h.Probe.Readyz)

	router.Group(func(r chi.Router) {
		r.Use(mw.BearerAuth(sharedSecret))
		r.Use(mw.RateLimitByIP(60))

		protectedConfig := huma.DefaultConfig("thyme", "1.0.0")
		protectedConfig.DocsPath = ""
		protectedConfig.OpenAPIPath = ""
		protectedConfig.SchemasPath = ""
		protectedAPI := humachi.New(r, protectedConfig)

		huma.Post(protectedAPI, "/api/v1/scan/trigger", h.Trigger.TriggerScan)
		huma.Post(protectedAPI, "/api/v1/weekly/trigger", h.Trigger.TriggerWeekly)

		huma.Post(protectedAPI, "/api/v1/decisions/{itemId}/review", h.Review.ApplyDecision)

		huma.Get(protectedAPI, "/api/v1/overview", h.Read.GetOverview)
		huma.Get(protectedAPI, "/api/v1/pages", h.Read.ListPages)
		huma.Get(protectedAPI, "/api/v1/findings", h.Read.ListFindings)
		huma.Get(protectedAPI, "/api/v1/trends", h.Read.ListTrends)
		huma.Get(protectedAPI, "/api/v1/conversion-audit/latest", h.Read.LatestConversionAudit)
	})
}
