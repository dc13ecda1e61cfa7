package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-session-client/api"
	"github.com/jrsteele09/go-session-client/auth"
	"github.com/jrsteele09/go-session-client/credstore"
	"github.com/jrsteele09/go-session-client/identity"
	"github.com/jrsteele09/go-session-client/internal/config"
	"github.com/jrsteele09/go-session-client/sessions"
	"github.com/jrsteele09/go-session-client/storage/kvfile"
	"github.com/jrsteele09/go-session-client/strategy"
	"github.com/jrsteele09/go-session-client/token/refresh"
	"github.com/jrsteele09/go-session-client/transport"
	"github.com/jrsteele09/go-session-client/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// app is one wired client: storage, session, refresh, interceptor and entry points
type app struct {
	cfg      config.Config
	logger   zerolog.Logger
	sessions *sessions.Manager
	auth     *auth.Service
	api      *api.Client
	registry *prometheus.Registry
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	kv := kvfile.New(
		kvfile.PathForOrigin(cfg.GetDataFolder(), cfg.GetBaseURL()),
		kvfile.WithPassphrase(cfg.GetStoragePassphrase()),
	)
	manager := sessions.NewManager(
		credstore.New(kv, credstore.WithLogger(logger)),
		sessions.WithRolePolicy(users.TopRoleBypass{Top: users.RoleType(cfg.GetTopRole())}),
		sessions.WithIdentityDecoder(identity.DecodeAccessToken),
		sessions.WithLogger(logger),
	)

	// Identity calls use the plain client, never the interceptor
	base := &http.Client{Timeout: cfg.GetRequestTimeout()}
	var strat strategy.CredentialStrategy
	attach := func(req *http.Request, accessToken string) {
		strat.AttachToken(req, accessToken)
	}
	var csrf *identity.CSRF
	if cfg.GetStrategy() == config.StrategyCookie {
		csrf = identity.NewCSRF(cfg.GetBaseURL(), cfg.GetCSRF(),
			identity.WithCSRFHTTPClient(base),
			identity.WithCSRFLogger(logger),
		)
	}
	idClient, err := newIdentityClient(ctx, cfg, base, attach, csrf, logger)
	if err != nil {
		return nil, err
	}
	strat = strategy.New(cfg.GetStrategy(), idClient, cfg, strategy.WithCSRF(csrf))

	registry := prometheus.NewRegistry()
	coordinator := refresh.NewCoordinator(manager, strat,
		refresh.WithTimeout(cfg.GetRefreshTimeout()),
		refresh.WithMetrics(refresh.NewMetrics(registry)),
		refresh.WithLogger(logger),
	)
	tr := transport.New(manager, strat, coordinator,
		transport.WithMetrics(transport.NewMetrics(registry)),
		transport.WithLogger(logger),
	)
	apiClient := api.New(cfg.GetBaseURL(), &http.Client{Transport: tr, Timeout: cfg.GetRequestTimeout()}, api.WithLogger(logger))

	service, err := auth.NewService(auth.Deps{Identity: idClient, Sessions: manager, API: apiClient},
		auth.WithLogoutTimeout(cfg.GetLogoutTimeout()),
		auth.WithMePath(cfg.GetIdentityPaths().Me),
		auth.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		sessions: manager,
		auth:     service,
		api:      apiClient,
		registry: registry,
	}, nil
}

func newIdentityClient(ctx context.Context, cfg config.Config, base *http.Client, attach identity.AttachFunc, csrf *identity.CSRF, logger zerolog.Logger) (identity.Client, error) {
	if cfg.GetStrategy() != config.StrategyOAuth2 {
		options := []identity.HTTPOption{
			identity.WithHTTPClient(base),
			identity.WithAttach(attach),
			identity.WithLogger(logger),
		}
		if csrf != nil {
			options = append(options,
				identity.WithSessionCookie(cfg.GetSessionCookieName()),
				identity.WithCSRF(csrf),
			)
		}
		return identity.NewHTTPClient(cfg.GetBaseURL(), cfg.GetIdentityPaths(), options...), nil
	}

	if cfg.GetIssuerURL() == "" || cfg.GetClientID() == "" {
		return nil, fmt.Errorf("[newIdentityClient] OIDC_ISSUER and OAUTH_CLIENT_ID are required for the %s strategy", config.StrategyOAuth2)
	}
	return identity.DiscoverOAuth2Client(ctx, cfg.GetIssuerURL(), cfg.GetClientID(), cfg.GetClientSecret(), cfg.GetScopes(),
		identity.WithOAuth2HTTPClient(base),
		identity.WithOAuth2Logger(logger),
	)
}

// printMetrics writes the refresh and interceptor counters
func (a *app) printMetrics() error {
	families, err := a.registry.Gather()
	if err != nil {
		return fmt.Errorf("[printMetrics] %w", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			fmt.Printf("%-50s %v\n", mf.GetName(), m.GetCounter().GetValue())
		}
	}
	return nil
}
