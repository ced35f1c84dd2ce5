package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"chatcore/internal/retention"
	"chatcore/pkg/bus"
	"chatcore/pkg/chat"
	"chatcore/pkg/config"
	"chatcore/pkg/feed"
	"chatcore/pkg/logger"
	"chatcore/pkg/store"
	"chatcore/pkg/telemetry"
	"chatcore/pkg/validation"
)

// Effective is the merged flag/env/file configuration the app runs with.
type Effective struct {
	Config *config.Config
	Addr   string
	DBPath string
	Source string
}

// App encapsulates the server components and lifecycle.
type App struct {
	eff       Effective
	version   string
	commit    string
	buildDate string

	bus *bus.Bus
	svc *chat.Service
	gw  *feed.Gateway

	srv *http.Server
}

// New initializes resources that do not require a running context (DB,
// validation rules, runtime keys, event wiring). It does not start the
// HTTP server or retention; call Run to start those and block until
// shutdown.
func New(eff Effective, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	// validate effective config early and fail fast
	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	logger.InitWithLevel(eff.Config.Logging.Level)

	// runtime keys
	runtimeCfg := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, SigningKeys: map[string]struct{}{}}
	for _, k := range eff.Config.Security.APIKeys.Backend {
		runtimeCfg.BackendKeys[k] = struct{}{}
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	initValidation(eff.Config)

	if err := store.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate}
	a.wireEvents()
	return a, nil
}

// wireEvents builds the bus, feed gateway and chat service with their
// telemetry hooks.
func (a *App) wireEvents() {
	a.bus = bus.New()
	a.bus.OnPublish(func(eventType string) {
		telemetry.EventsPublished.WithLabelValues(eventType).Inc()
	})

	a.gw = feed.NewGateway(a.bus, a.eff.Config.Chat.FeedBuffer)
	a.gw.OnOpen = func(kind string) { telemetry.OpenFeeds.WithLabelValues(kind).Inc() }
	a.gw.OnClose = func(kind string) { telemetry.OpenFeeds.WithLabelValues(kind).Dec() }
	a.gw.OnDrop = func(kind string) { telemetry.DroppedFeedEvents.WithLabelValues(kind).Inc() }

	a.svc = chat.NewService(a.bus, a.eff.Config.Chat)
}

// Run starts retention (if enabled) and the HTTP server, and blocks
// until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	retCancel, err := retention.Start(ctx, a.eff.Config.Retention)
	if err != nil {
		return err
	}
	defer retCancel()

	a.printBanner()

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdownHTTP()
		return nil
	case err := <-errCh:
		return err
	}
}

// initValidation builds validation rules from config and sets them globally.
func initValidation(cfg *config.Config) {
	vr := validation.Rules{Types: map[string]string{}, MaxLen: map[string]int{}, Enums: map[string][]string{}}
	vr.Required = append(vr.Required, cfg.Validation.Required...)
	for _, t := range cfg.Validation.Types {
		vr.Types[t.Path] = t.Type
	}
	for _, ml := range cfg.Validation.MaxLen {
		vr.MaxLen[ml.Path] = ml.Max
	}
	for _, e := range cfg.Validation.Enums {
		vr.Enums[e.Path] = append([]string{}, e.Values...)
	}
	for _, wt := range cfg.Validation.WhenThen {
		vr.WhenThen = append(vr.WhenThen, validation.WhenThenRule{WhenPath: wt.When.Path, Equals: wt.When.Equals, ThenReq: append([]string{}, wt.Then.Required...)})
	}
	validation.SetRules(vr)
}
