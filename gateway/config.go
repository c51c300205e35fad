package gateway

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	GatewayUrl    string        `envconfig:"GATEWAY_URL" required:"true"`
	GatewayApiKey string        `envconfig:"GATEWAY_API_KEY"`
	Timeout       time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"15s"`
}

func LoadConfig() (c *Config, err error) {
	c = &Config{}
	err = envconfig.Process("", c)
	if err != nil {
		return nil, err
	}
	return c, nil
}
