package dispenser

import (
	"time"

	"github.com/rs/zerolog/log"
)

// CacheSweeper purges cached variants older than the retention period once a day.
type CacheSweeper struct {
	dispenser     *Dispenser
	retentionDays int
	timer         *time.Timer
	ticker        *time.Ticker
	done          chan bool
}

func NewCacheSweeper(dispenser *Dispenser, retentionDays int) *CacheSweeper {
	if retentionDays <= 0 {
		retentionDays = 30
	}

	return &CacheSweeper{
		dispenser:     dispenser,
		retentionDays: retentionDays,
		done:          make(chan bool),
	}
}

// Start schedules the first sweep for 3 AM local time and then every 24 hours.
func (cs *CacheSweeper) Start() {
	now := time.Now()
	nextRun := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, now.Location())
	if now.After(nextRun) {
		nextRun = nextRun.Add(24 * time.Hour)
	}

	log.Info().
		Str("nextRun", nextRun.Format("2006-01-02 15:04:05")).
		Int("retentionDays", cs.retentionDays).
		Msg("Image cache sweeper started")

	cs.timer = time.AfterFunc(time.Until(nextRun), func() {
		cs.sweep()

		cs.ticker = time.NewTicker(24 * time.Hour)
		go cs.loop()
	})
}

func (cs *CacheSweeper) loop() {
	for {
		select {
		case <-cs.ticker.C:
			cs.sweep()
		case <-cs.done:
			cs.ticker.Stop()
			return
		}
	}
}

func (cs *CacheSweeper) sweep() int {
	cutoff := time.Now().AddDate(0, 0, -cs.retentionDays)

	removed, err := cs.dispenser.Purge(cutoff)
	if err != nil {
		log.Error().Err(err).Int("removed", removed).Msg("Failed to sweep image cache")
		return removed
	}

	log.Info().Int("removed", removed).Msg("Image cache sweep completed")
	return removed
}

func (cs *CacheSweeper) Stop() {
	log.Info().Msg("Stopping image cache sweeper")
	if cs.timer != nil {
		cs.timer.Stop()
	}
	if cs.ticker != nil {
		cs.done <- true
	}
}

// RunNow sweeps immediately and returns the number of removed variants.
func (cs *CacheSweeper) RunNow() int {
	return cs.sweep()
}
