package banner

import (
	"fmt"
	"time"

	"convod/pkg/config"
)

const banner = `
 ██████╗ ██████╗ ███╗   ██╗██╗   ██╗ ██████╗ ██████╗
██╔════╝██╔═══██╗████╗  ██║██║   ██║██╔═══██╗██╔══██╗
██║     ██║   ██║██╔██╗ ██║██║   ██║██║   ██║██║  ██║
██║     ██║   ██║██║╚██╗██║╚██╗ ██╔╝██║   ██║██║  ██║
╚██████╗╚██████╔╝██║ ╚████║ ╚████╔╝ ╚██████╔╝██████╔╝
 ╚═════╝ ╚═════╝ ╚═╝  ╚═══╝  ╚═══╝   ╚═════╝ ╚═════╝
`

// PrintWithEff prints the startup banner using an EffectiveConfigResult
// which provides richer context (config, addr, dbpath, source).
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	var addr = eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	var dbPath = eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	var src = eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config: %s\n", src)

	fmt.Println("\n== Examples ===================================================")
	fmt.Println("curl -X POST 'http://<host>:<port>/v1/messages' -d '{\"user_ids\":[\"a\",\"b\"],\"body\":\"hello\"}'")
	fmt.Println("curl 'http://<host>:<port>/v1/messages?key=a-b&limit=10'")
	fmt.Println("\n== Production? =================================================")
	be := 0
	fe := 0
	ak := 0
	if eff.Config != nil {
		be = len(eff.Config.Security.APIKeys.Backend)
		fe = len(eff.Config.Security.APIKeys.Frontend)
		ak = len(eff.Config.Security.APIKeys.Admin)
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
	if ak > 0 {
		fmt.Printf("- Admin API keys: OK (%d)\n", ak)
	} else {
		fmt.Println("- Admin API keys: MISSING (required for admin tooling)")
	}

	tlsOK := false
	if eff.Config != nil && eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != "" {
		tlsOK = true
	}
	if tlsOK {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}

	if eff.Config != nil && eff.Config.Push.Enabled {
		fmt.Println("- Push: enabled")
	} else {
		fmt.Println("- Push: disabled (payloads are logged)")
	}
	if eff.Config != nil && eff.Config.Search.Enabled {
		fmt.Println("- Search sync: enabled")
	} else {
		fmt.Println("- Search sync: disabled")
	}
	if eff.Config != nil && eff.Config.Janitor.Enabled {
		info := ""
		if eff.Config.Janitor.Cron != "" {
			info = "cron=" + eff.Config.Janitor.Cron
		} else if eff.Config.Janitor.Period > 0 {
			info = "period=" + time.Duration(eff.Config.Janitor.Period).String()
		}
		if info != "" {
			fmt.Printf("- Janitor: enabled (%s)\n", info)
		} else {
			fmt.Println("- Janitor: enabled")
		}
	} else {
		fmt.Println("- Janitor: disabled")
	}

	fmt.Println("\n== Logs: =================================================")
}
