package main

import (
	"context"
	"log"
	"strings"

	"chatcore/internal/app"
	"chatcore/pkg/config"
	"chatcore/pkg/shutdown"
	"chatcore/pkg/store"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()
	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])

	cfg, _, _, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// flags win over config/env when provided explicitly
	addr := addrVal
	if !setFlags["addr"] {
		addr = cfg.Addr()
	}
	dbPath := dbVal
	if !setFlags["db"] {
		if p := cfg.Storage.DBPath; p != "" {
			dbPath = p
		}
	}

	var srcs []string
	if len(setFlags) > 0 {
		srcs = append(srcs, "flags")
	}
	if envUsed {
		srcs = append(srcs, "env")
	}
	if _, err := config.Load(cfgPath); err == nil {
		srcs = append(srcs, "config")
	}

	a, err := app.New(app.Effective{
		Config: cfg,
		Addr:   addr,
		DBPath: dbPath,
		Source: strings.Join(srcs, ", "),
	}, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err, dbPath)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		_ = store.Close()
		shutdown.Abort("server failed", err, dbPath)
	}
	_ = store.Close()
}
