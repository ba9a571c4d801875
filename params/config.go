package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Server struct {
	// ListenAddr is the REST/WebSocket bind address.
	ListenAddr string
	// GatewayQueue sizes the order gateway's submission buffer. Submissions
	// beyond it block until the matching loop catches up.
	GatewayQueue int
}

type Storage struct {
	// DataDir holds the event journal and balance database.
	DataDir string
	// Journal toggles event journaling. Disable for throwaway devnets only;
	// without it there is no durable record of fills and borrows.
	Journal bool
}

type Lending struct {
	// CollateralFactorBps haircuts collateral value when computing health,
	// e.g. 8000 counts $1 of collateral as $0.80 of borrowing power.
	CollateralFactorBps int64
	// MinHealthBps is the health floor for new auto-borrow orders.
	MinHealthBps int64
}

type Config struct {
	Server  Server
	Storage Storage
	Lending Lending
}

func Default() Config {
	return Config{
		Server: Server{
			ListenAddr:   ":8080",
			GatewayQueue: 1024,
		},
		Storage: Storage{
			DataDir: "data",
			Journal: true,
		},
		Lending: Lending{
			CollateralFactorBps: 8000,
			MinHealthBps:        10000,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Server.ListenAddr = getEnv("LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)

	if q := os.Getenv("GATEWAY_QUEUE"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			cfg.Server.GatewayQueue = n
		}
	}
	if j := os.Getenv("JOURNAL_ENABLED"); j != "" {
		cfg.Storage.Journal = j == "true"
	}
	if cf := os.Getenv("COLLATERAL_FACTOR_BPS"); cf != "" {
		if n, err := strconv.ParseInt(cf, 10, 64); err == nil && n > 0 && n <= 10000 {
			cfg.Lending.CollateralFactorBps = n
		}
	}
	if mh := os.Getenv("MIN_HEALTH_BPS"); mh != "" {
		if n, err := strconv.ParseInt(mh, 10, 64); err == nil && n > 0 {
			cfg.Lending.MinHealthBps = n
		}
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
