package banner

import (
	"fmt"

	"chatcore/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗ ██████╗ ██████╗ ██████╗ ███████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝██╔═══██╗██╔══██╗██╔════╝
██║     ███████║███████║   ██║   ██║     ██║   ██║██████╔╝█████╗
██║     ██╔══██║██╔══██║   ██║   ██║     ██║   ██║██╔══██╗██╔══╝
╚██████╗██║  ██║██║  ██║   ██║   ╚██████╗╚██████╔╝██║  ██║███████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝    ╚═════╝ ╚═════╝ ╚═╝  ╚═╝╚══════╝
`

// Print writes the startup banner with the effective runtime info and a
// short production checklist.
func Print(cfg *config.Config, addr, dbPath, source, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if source != "" {
		fmt.Printf("Config:   %s\n", source)
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/messages - Send a message (JSON: content, receiver, thread)")
	fmt.Println("GET  /v1/messages?thread=<id>&page=<n> - Conversation history")
	fmt.Println("GET  /v1/threads/<id>/events/<kind> - Live SSE feed (messages|typing|reads|reactions)")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/messages' -d '{\"content\": \"hello\", \"thread\": \"t1\"}'\n", addr)
	fmt.Printf("curl 'http://localhost%s/v1/messages?thread=t1&limit=10'\n", addr)

	fmt.Println("\n== Production? ================================================")
	be, fe, ad := 0, 0, 0
	if cfg != nil {
		be = len(cfg.Security.APIKeys.Backend)
		fe = len(cfg.Security.APIKeys.Frontend)
		ad = len(cfg.Security.APIKeys.Admin)
	}
	if be > 0 {
		fmt.Printf("- Backend API keys: OK (%d)\n", be)
	} else {
		fmt.Println("- Backend API keys: MISSING (required for backend services)")
	}
	if fe > 0 {
		fmt.Printf("- Frontend API keys: OK (%d)\n", fe)
	} else {
		fmt.Println("- Frontend API keys: MISSING (required for client access)")
	}
	if ad > 0 {
		fmt.Printf("- Admin API keys: OK (%d)\n", ad)
	} else {
		fmt.Println("- Admin API keys: MISSING (required for admin tooling)")
	}

	if cfg != nil && cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}

	if dbPath != "" {
		fmt.Printf("- DB Path: %s\n", dbPath)
	} else {
		fmt.Println("- DB Path: not set (use --db or CHATCORE_DB_PATH)")
	}

	retEnabled := cfg != nil && cfg.Retention.Enabled
	if retEnabled {
		info := ""
		if cfg.Retention.Cron != "" {
			info = "cron=" + cfg.Retention.Cron
		} else if cfg.Retention.Period != "" {
			info = "period=" + cfg.Retention.Period
		}
		if info != "" {
			fmt.Printf("- Retention: enabled (%s)\n", info)
		} else {
			fmt.Println("- Retention: enabled")
		}
	} else {
		fmt.Println("- Retention: disabled")
	}

	fmt.Println("\n== Logs: ======================================================")
}
