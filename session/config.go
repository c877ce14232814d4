package session

import (
	"fmt"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/instep/internal/transport"
	"github.com/srg/instep/internal/transport/goble"
	"github.com/srg/instep/schema"
)

// BackoffConfig shapes the reconnect schedule.
type BackoffConfig struct {
	Initial    time.Duration `default:"500ms"`
	Max        time.Duration `default:"30s"`
	Multiplier float64       `default:"2.0"`
	Jitter     float64       `default:"0.25"`
}

// Config carries session construction parameters. Zero fields take the
// tagged defaults.
type Config struct {
	// Adapter is the radio; nil selects the platform go-ble adapter.
	Adapter transport.Adapter

	// Registry resolves device models; nil selects the built-in set.
	Registry *schema.Registry

	// Model pins a registered model by name instead of resolving one
	// from the advertised device name.
	Model string

	// ConnectTimeout bounds each dial, redials included.
	ConnectTimeout time.Duration `default:"15s"`

	// CommandTimeout bounds one-shot characteristic reads and writes.
	CommandTimeout time.Duration `default:"5s"`

	// StreamingMode is written to the device on every entry to the
	// connected state. SkipStreamingCommand leaves the device's own
	// setting untouched instead.
	StreamingMode        schema.StreamingMode `default:"4"`
	SkipStreamingCommand bool

	// SettleDelay is the pause after a configuration write before the
	// device answers consistently again.
	SettleDelay time.Duration `default:"500ms"`

	// DisableReconnect turns unsolicited link loss into a terminal
	// disconnect instead of entering the reconnect loop.
	DisableReconnect bool

	// MaxReconnectAttempts bounds consecutive failed redials before the
	// session gives up. Negative means unbounded.
	MaxReconnectAttempts int `default:"5"`

	Backoff BackoffConfig

	// StreamBuffer is the per-subscription event buffer. A consumer that
	// falls behind loses the oldest buffered events, never the newest.
	StreamBuffer int `default:"256"`

	Logger *logrus.Logger
}

func (c *Config) applyDefaults() error {
	defaults.SetDefaults(c)

	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	if c.Registry == nil {
		c.Registry = schema.Default()
	}
	if c.Adapter == nil {
		c.Adapter = goble.NewAdapter(c.Logger)
	}

	if c.Model != "" {
		if _, ok := c.Registry.Find(c.Model); !ok {
			return fmt.Errorf("model %q is not registered", c.Model)
		}
	}
	if !c.SkipStreamingCommand && !c.StreamingMode.Valid() {
		return fmt.Errorf("streaming mode %d: must be 1, 3 or 4", byte(c.StreamingMode))
	}
	if c.StreamBuffer < 1 {
		return fmt.Errorf("stream buffer must be positive, got %d", c.StreamBuffer)
	}
	return nil
}
