// Package synth generates synthetic battles and noisy screenshot readings with
// known answers, and scores a matching run against them.
package synth

import (
	"runtime"
	"time"
)

// Config holds generation parameters.
type Config struct {
	Battles          int       // battles to create
	PlayersPerBattle int       // roster size
	PlayerPool       int       // distinct player names rosters are drawn from
	Videos           int       // videos to create
	BattlesPerVideo  int       // consecutive battles shown in one video, at most
	ShotsPerBattle   int       // screenshots taken while a battle is on screen
	MinVisible       int       // fewest roster names readable in a screenshot
	NoiseRate        float64   // chance a visible name is misread
	Seed             uint64    // same seed, same dataset
	Start            time.Time // first battle start
	Spacing          time.Duration
	Workers          int
}

// DefaultConfig returns a small but realistic dataset shape.
func DefaultConfig() Config {
	return Config{
		Battles:          200,
		PlayersPerBattle: 8,
		PlayerPool:       400,
		Videos:           40,
		BattlesPerVideo:  3,
		ShotsPerBattle:   4,
		MinVisible:       3,
		NoiseRate:        0.3,
		Seed:             1,
		Start:            time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Spacing:          27 * time.Minute,
		Workers:          runtime.NumCPU(),
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.Battles < 1 {
		c.Battles = d.Battles
	}
	if c.PlayersPerBattle < 1 {
		c.PlayersPerBattle = d.PlayersPerBattle
	}
	if c.PlayerPool < c.PlayersPerBattle {
		c.PlayerPool = c.PlayersPerBattle
	}
	if c.Videos < 1 {
		c.Videos = d.Videos
	}
	if c.BattlesPerVideo < 1 {
		c.BattlesPerVideo = 1
	}
	if c.ShotsPerBattle < 1 {
		c.ShotsPerBattle = 1
	}
	if c.MinVisible < 1 || c.MinVisible > c.PlayersPerBattle {
		c.MinVisible = min(d.MinVisible, c.PlayersPerBattle)
	}
	if c.NoiseRate < 0 {
		c.NoiseRate = 0
	}
	if c.NoiseRate > 1 {
		c.NoiseRate = 1
	}
	if c.Start.IsZero() {
		c.Start = d.Start
	}
	if c.Spacing <= 0 {
		c.Spacing = d.Spacing
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
}
