package ledger

import (
	"net/http"

	"CoopLedger/api"
	"CoopLedger/internal/config"
	"CoopLedger/internal/dashboard"
)

// Routes lists the ledger endpoints.
func Routes(in Intake, hub *dashboard.ProgressHub, statuses StatusFunc) []api.Route {
	return []api.Route{
		{Method: http.MethodPost, Path: "/api/ledger/contributions/upload", Handler: UploadContributions(in), Authenticated: true},
		{Method: http.MethodPost, Path: "/api/ledger/loans/post", Handler: PostLoans(in), Authenticated: true},
		{Method: http.MethodGet, Path: "/api/ledger/progress", Handler: hub.HandleSSE},
		{Method: http.MethodGet, Path: "/api/ledger/health", Handler: Health(statuses)},
	}
}

// NewLedgerService serves the ledger endpoints. An "addr" entry in the
// services.yaml config overrides the environment.
func NewLedgerService(cfg map[string]interface{}, httpCfg config.HTTPConfig, in Intake, hub *dashboard.ProgressHub, statuses StatusFunc) *api.HTTPService {
	addr := httpCfg.Addr
	if a, ok := cfg["addr"].(string); ok && a != "" {
		addr = a
	}
	router := api.NewRouter(config.MaxUploadBytes, Routes(in, hub, statuses)...)
	return api.NewHTTPService("ledger", addr, router, httpCfg.ReadTimeout, httpCfg.WriteTimeout)
}
