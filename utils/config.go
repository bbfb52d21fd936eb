package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/silkroad-bazaar/x402/types"
)

// Environment keys read by LoadX402ConfigFromEnv.
const (
	EnvNetwork         = "X402_NETWORK"
	EnvRPCURL          = "X402_RPC_URL"
	EnvCommitment      = "X402_COMMITMENT"
	EnvProofMode       = "X402_PROOF_MODE"
	EnvConfirmAttempts = "X402_CONFIRM_ATTEMPTS"
	EnvConfirmInterval = "X402_CONFIRM_INTERVAL"
	EnvTimeout         = "X402_TIMEOUT"
	EnvLogLevel        = "X402_LOG_LEVEL"
	EnvEnableMetrics   = "X402_ENABLE_METRICS"
	EnvRedisAddr       = "X402_REDIS_ADDR"
	EnvRateLimit       = "X402_RATE_LIMIT"
	EnvRateBurst       = "X402_RATE_BURST"
	EnvTrustProxy      = "X402_TRUST_PROXY"
)

// LoadX402ConfigFromEnv builds an X402Config from the process environment.
// The given dotenv files are loaded first; with none, a missing ./.env is ignored.
// Variables already set in the environment take precedence over dotenv files.
func LoadX402ConfigFromEnv(files ...string) (*types.X402Config, error) {
	if err := godotenv.Load(files...); err != nil {
		if len(files) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, &types.X402Error{
				Code:    types.ErrConfigError,
				Message: fmt.Sprintf("failed to load env file: %v", err),
			}
		}
	}

	config := &types.X402Config{
		ProofMode: types.ProofMode(envOr(EnvProofMode, string(types.ProofModeSignature))),
		LogLevel:  envOr(EnvLogLevel, "info"),
		RedisAddr: os.Getenv(EnvRedisAddr),
	}

	var err error
	if config.DefaultTimeout, err = envDuration(EnvTimeout, 30*time.Second); err != nil {
		return nil, err
	}
	if config.ConfirmInterval, err = envDuration(EnvConfirmInterval, 0); err != nil {
		return nil, err
	}
	if config.ConfirmAttempts, err = envInt(EnvConfirmAttempts, 0); err != nil {
		return nil, err
	}
	if config.RateBurst, err = envInt(EnvRateBurst, 0); err != nil {
		return nil, err
	}
	if raw := os.Getenv(EnvRateLimit); raw != "" {
		if config.RateLimit, err = strconv.ParseFloat(raw, 64); err != nil {
			return nil, envError(EnvRateLimit, err)
		}
	}
	if raw := os.Getenv(EnvEnableMetrics); raw != "" {
		if config.EnableMetrics, err = strconv.ParseBool(raw); err != nil {
			return nil, envError(EnvEnableMetrics, err)
		}
	}
	if raw := os.Getenv(EnvTrustProxy); raw != "" {
		if config.TrustProxy, err = strconv.ParseBool(raw); err != nil {
			return nil, envError(EnvTrustProxy, err)
		}
	}

	if rpcURL := os.Getenv(EnvRPCURL); rpcURL != "" {
		network := types.Network(envOr(EnvNetwork, string(types.NetworkSolanaMainnet)))
		config.Clients = map[types.Network]types.ClientConfig{
			network: {
				Network:    network,
				RPCUrl:     rpcURL,
				Commitment: os.Getenv(EnvCommitment),
				Timeout:    config.DefaultTimeout,
			},
		}
	}

	if err := ValidateX402Config(config); err != nil {
		return nil, err
	}

	return config, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, envError(key, err)
	}
	return v, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, envError(key, err)
	}
	return d, nil
}

func envError(key string, err error) error {
	return &types.X402Error{
		Code:    types.ErrConfigError,
		Message: fmt.Sprintf("invalid %s: %v", key, err),
	}
}
