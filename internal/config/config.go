// Package config loads server settings from a JSON file and TAROT_*
// environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tarot/internal/bots"
	"tarot/internal/server"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Addr       string `json:"addr"`
	BotDelayMS int    `json:"bot_delay_ms"`
	// MaxRounds ends a match after that many rounds; 0 never ends it.
	MaxRounds            int      `json:"max_rounds"`
	Origins              []string `json:"origins"`
	TokenSecret          string   `json:"token_secret"`
	SubstituteDifficulty string   `json:"substitute_difficulty"`
	BotSeed              int64    `json:"bot_seed"`
}

func Default() Config {
	return Config{
		Addr:                 ":8080",
		BotDelayMS:           800,
		MaxRounds:            5,
		SubstituteDifficulty: bots.Medium.String(),
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return c, c.Validate()
}

// ApplyEnv overlays TAROT_* variables found through lookup, which is
// os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("TAROT_ADDR"); ok && v != "" {
		c.Addr = v
	}
	if v, ok := lookup("TAROT_BOT_DELAY_MS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: TAROT_BOT_DELAY_MS: %v", ErrInvalid, err)
		}
		c.BotDelayMS = n
	}
	if v, ok := lookup("TAROT_MAX_ROUNDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: TAROT_MAX_ROUNDS: %v", ErrInvalid, err)
		}
		c.MaxRounds = n
	}
	if v, ok := lookup("TAROT_ORIGINS"); ok {
		c.Origins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Origins = append(c.Origins, o)
			}
		}
	}
	if v, ok := lookup("TAROT_TOKEN_SECRET"); ok {
		c.TokenSecret = v
	}
	if v, ok := lookup("TAROT_SUBSTITUTE_DIFFICULTY"); ok && v != "" {
		c.SubstituteDifficulty = v
	}
	if v, ok := lookup("TAROT_BOT_SEED"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: TAROT_BOT_SEED: %v", ErrInvalid, err)
		}
		c.BotSeed = n
	}
	return c.Validate()
}

func (c Config) Validate() error {
	if c.BotDelayMS < 0 {
		return fmt.Errorf("%w: bot_delay_ms %d", ErrInvalid, c.BotDelayMS)
	}
	if c.MaxRounds < 0 {
		return fmt.Errorf("%w: max_rounds %d", ErrInvalid, c.MaxRounds)
	}
	if _, err := bots.ParseDifficulty(c.SubstituteDifficulty); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (c Config) BotDelay() time.Duration {
	return time.Duration(c.BotDelayMS) * time.Millisecond
}

// Table converts the settings every table shares.
func (c Config) Table() (server.TableConfig, error) {
	d, err := bots.ParseDifficulty(c.SubstituteDifficulty)
	if err != nil {
		return server.TableConfig{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	tc := server.DefaultTableConfig()
	tc.Rules.MaxRounds = c.MaxRounds
	tc.BotDelay = c.BotDelay()
	tc.SubstituteDifficulty = d
	tc.BotSeed = c.BotSeed
	return tc, nil
}
