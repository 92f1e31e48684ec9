package config

import (
	"flag"
	"os"
	"time"

	"github.com/seitanmen/QuickMessenger/internal/flagx"
)

// parseFlags overlays selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   WebSocket bind address (e.g., ":8080")
//	-u int      UDP discovery port
//	-d string   data directory
//	-t int      reconnect token validity, hours
//
// os.Args is first filtered to the flags handled here via flagx.FilterArgs so
// this parser never trips on flags owned by another component.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-u", "-d", "-t"})

	fs := flag.NewFlagSet("hub", flag.ContinueOnError)

	fs.StringVar(&cfg.HubAddr, "a", cfg.HubAddr, "address and port for the WebSocket endpoint")
	fs.IntVar(&cfg.DiscoveryPort, "u", cfg.DiscoveryPort, "UDP discovery port")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")

	tokenTTLHours := fs.Int("t", int(cfg.TokenTTL.Hours()), "reconnect token validity (in hours)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.TokenTTL = time.Duration(*tokenTTLHours) * time.Hour
}
