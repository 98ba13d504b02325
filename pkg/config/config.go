package config

import (
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
)

// Defaults for the DHT overlay. The size limit is rounded down to the
// nearest multiple of 20 KB when applied.
const (
	DefaultDHTLimitKB = 20
	DefaultRingSpots  = 32
)

// Config is a simple in-memory holder for runtime configuration
// (download directory, DHT capacity, ring geometry from env).
type Config struct {
	DownloadDir string
	DHTLimitKB  int
	RingSpots   int
}

var (
	config     *Config
	configOnce sync.Once
)

func Init() *Config {
	configOnce.Do(func() {
		godotenv.Load()

		config = &Config{
			DownloadDir: envOr("PEERSTER_DOWNLOAD_DIR", "."),
			DHTLimitKB:  envInt("PEERSTER_DHT_LIMIT_KB", DefaultDHTLimitKB),
			RingSpots:   envInt("PEERSTER_RING_SPOTS", DefaultRingSpots),
		}

		// Ring size must be a power of two for the finger intervals to tile.
		if config.RingSpots <= 0 || config.RingSpots&(config.RingSpots-1) != 0 {
			config.RingSpots = DefaultRingSpots
		}
	})
	return config
}

func GetConfig() *Config {
	if config == nil {
		return Init()
	}
	return config
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
