package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"

	"github.com/mcoot/roundsync/internal/model"
)

// Config holds CLI configuration
type Config struct {
	ServerURL   string `env:"ROUNDSYNC_SERVER" envDefault:"http://localhost:8080"`
	SessionID   string `env:"ROUNDSYNC_SESSION"`
	SessionFile string `env:"ROUNDSYNC_SESSION_FILE"`
	Output      string `env:"ROUNDSYNC_OUTPUT" envDefault:"text"`
	Verbose     bool

	// Set from the session file when a round was joined
	RoundID  model.RoundID
	PlayerID model.PlayerID
}

// SavedSession is what `round join` persists between invocations
type SavedSession struct {
	SessionID model.SessionID `json:"sessionId"`
	RoundID   model.RoundID   `json:"roundId"`
	PlayerID  model.PlayerID  `json:"playerId"`
}

// DefaultConfig returns a Config populated from the environment
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		cfg.ServerURL = "http://localhost:8080"
		cfg.Output = "text"
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = defaultSessionFile()
	}
	return cfg
}

// LoadSession fills in the session, round and player from the session file.
// A session given by flag or environment wins over the file.
func (c *Config) LoadSession() error {
	data, err := os.ReadFile(c.SessionFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	var saved SavedSession
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("read session file %s: %w", c.SessionFile, err)
	}

	if c.SessionID == "" {
		c.SessionID = string(saved.SessionID)
	}
	if c.RoundID == "" {
		c.RoundID = saved.RoundID
	}
	if c.PlayerID == "" {
		c.PlayerID = saved.PlayerID
	}
	return nil
}

// SaveSession writes the session to the session file
func (c *Config) SaveSession(s SavedSession) error {
	c.SessionID = string(s.SessionID)
	c.RoundID = s.RoundID
	c.PlayerID = s.PlayerID

	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.SessionFile)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	return os.WriteFile(c.SessionFile, data, 0600)
}

// Round returns the round named by args, or the joined round
func (c *Config) Round(args []string) (model.RoundID, error) {
	if len(args) > 0 && args[0] != "" {
		return model.RoundID(args[0]), nil
	}
	if c.RoundID == "" {
		return "", fmt.Errorf("no round given and no joined round; run `round join` first")
	}
	return c.RoundID, nil
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".roundsync/session.json"
	}
	return filepath.Join(home, ".roundsync", "session.json")
}
