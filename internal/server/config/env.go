package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// dotEnvFile is loaded before reading the environment when it exists.
// Variables already present in the process environment win.
var dotEnvFile = ".env"

const envPrefix = "LEDGERSYNC_"

// parseEnv overlays LEDGERSYNC_* environment variables. Malformed numeric
// values panic, matching the JSON and flag loaders.
func parseEnv(config *Config) {
	if err := godotenv.Load(dotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	if v, ok := lookup("ENDPOINT_ADDR_GRPC"); ok {
		config.EndpointAddrGRPC = v
	}
	if v, ok := lookup("DATABASE_DSN"); ok {
		config.DatabaseDSN = v
	}
	if v, ok := lookup("SECRET_KEY"); ok {
		config.SecretKey = v
	}
	if v, ok := lookup("ACCESS_TOKEN_VALIDITY_DURATION"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			panic(err)
		}
		config.AccessTokenValidityDuration = d
	}
	if v, ok := lookup("MAX_PUSH_BATCH"); ok {
		config.MaxPushBatch = mustAtoi(v)
	}
	if v, ok := lookup("RATE_LIMIT_RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			panic(err)
		}
		config.RateLimitRPS = f
	}
	if v, ok := lookup("RATE_LIMIT_BURST"); ok {
		config.RateLimitBurst = mustAtoi(v)
	}
	if v, ok := lookup("LOG_BACKEND"); ok {
		config.LogBackend = v
	}
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func mustAtoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		panic(err)
	}
	return n
}
