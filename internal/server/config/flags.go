package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/flagx"
)

// parseFlags populates server Config fields from command-line flags.
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN, or memory://
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-b int      max push batch
//	-q float    per-user requests per second
//	-x int      per-user burst
//	-l string   log backend (slog|zap)
//
// Only the flags above are parsed; os.Args is filtered with flagx.FilterArgs
// so the JSON -c flag does not collide.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-t", "-b", "-q", "-x", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")

	fs.IntVar(&config.MaxPushBatch, "b", config.MaxPushBatch, "max records per push")
	fs.Float64Var(&config.RateLimitRPS, "q", config.RateLimitRPS, "per-user rate limit, requests per second")
	fs.IntVar(&config.RateLimitBurst, "x", config.RateLimitBurst, "per-user rate limit burst")
	fs.StringVar(&config.LogBackend, "l", config.LogBackend, "log backend (slog|zap)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
}
