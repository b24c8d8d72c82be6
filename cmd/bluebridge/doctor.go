package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"bluebridge/internal/config"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your bluebridge setup",
		Long: `Verifies that the configuration is valid, the BlueBubbles server is
reachable with the configured credentials, and the agent host is set up.
Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Printf("bluebridge doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'bluebridge config init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Credentials resolvable
			creds, err := config.ResolveCredentials(cfg.BlueBubbles)
			if err != nil {
				printFail("Credentials", err.Error())
				failed++
			} else {
				printPass("Credentials", creds.ServerURL)
				passed++
			}

			// 4. Server reachable and 5. private API
			if err == nil {
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				client := newBlueBubblesClient(creds, cfg.BlueBubbles)
				ok, pingErr := client.Ping(ctx)
				switch {
				case pingErr != nil:
					printFail("Server ping", pingErr.Error())
					failed++
				case !ok:
					printFail("Server ping", "server rejected the request (wrong password?)")
					failed++
				default:
					printPass("Server ping", "pong")
					passed++

					info, infoErr := client.ServerInfo(ctx)
					switch {
					case infoErr != nil:
						printWarn("Private API", "server info unavailable: "+infoErr.Error())
						warned++
					case !info.PrivateAPI:
						printWarn("Private API", "disabled (no reactions, read receipts or threaded replies)")
						warned++
					default:
						printPass("Private API", fmt.Sprintf("enabled (server %s, macOS %s)", info.ServerVersion, info.OSVersion))
						passed++
					}
				}
				cancel()
			}

			// 6. Host configured
			if cfg.Host.BaseURL == "" {
				printFail("Host", "host.baseUrl is not set")
				failed++
			} else {
				printPass("Host", cfg.Host.BaseURL)
				passed++
				if cfg.Host.APIKey == "" {
					printWarn("Host API key", "not set (requests are unauthenticated)")
					warned++
				}
			}

			// 7. Metrics listener
			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					printWarn("Metrics", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
					warned++
				} else {
					printPass("Metrics", cfg.Metrics.Listen+cfg.Metrics.Path)
					passed++
				}
			}

			// 8. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running bluebridge.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nbluebridge should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! bluebridge is ready to run.\n")
			}
			return nil
		},
	}
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
