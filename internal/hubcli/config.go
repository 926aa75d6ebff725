package hubcli

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds the settings of hubcli. Flags override the environment.
type Config struct {
	URL            string        `env:"HUBCLI_URL"`
	Debug          bool          `env:"HUBCLI_DEBUG"`
	ConnectTimeout time.Duration `env:"HUBCLI_CONNECT_TIMEOUT,default=1500ms"`
	ConnectRetries uint64        `env:"HUBCLI_CONNECT_RETRIES,default=3"`
}

// LoadConfig reads .env.local, if present, and the process environment.
func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
