package engine

import (
	"math"
	"sync"

	"github.com/anthropic/lifeos/internal/model"
)

// Chronotype blends the configured hourly efficiency table with a profile
// learned from the user's own activity. An hour's learned factor takes over
// gradually as observations accumulate.
type Chronotype struct {
	mu      sync.RWMutex
	table   [24]float64
	learned [24]float64
	obs     [24]int
	minObs  int
}

// NewChronotype copies table, which must have 24 entries; missing entries
// default to 1.
func NewChronotype(table []float64, minObs int) *Chronotype {
	c := &Chronotype{minObs: minObs}
	for h := range c.table {
		c.table[h] = 1
		if h < len(table) {
			c.table[h] = table[h]
		}
	}
	if c.minObs <= 0 {
		c.minObs = 1
	}
	return c
}

// Learn replaces the learned profile. Each hour's factor is its mean APM
// relative to the mean over all observed hours.
func (c *Chronotype) Learn(profile []model.HourlyActivity) {
	var total float64
	var hours int
	for _, p := range profile {
		if p.Hour < 0 || p.Hour > 23 || p.Samples <= 0 || !finite(p.MeanAPM) {
			continue
		}
		total += p.MeanAPM
		hours++
	}

	var learned [24]float64
	var obs [24]int
	if hours > 0 && total > 0 {
		mean := total / float64(hours)
		for _, p := range profile {
			if p.Hour < 0 || p.Hour > 23 || p.Samples <= 0 || !finite(p.MeanAPM) {
				continue
			}
			learned[p.Hour] = p.MeanAPM / mean
			obs[p.Hour] = p.Samples
		}
	}

	c.mu.Lock()
	c.learned = learned
	c.obs = obs
	c.mu.Unlock()
}

// Factor is the efficiency multiplier for a local hour.
func (c *Chronotype) Factor(hour int) float64 {
	hour = ((hour % 24) + 24) % 24
	c.mu.RLock()
	defer c.mu.RUnlock()

	w := math.Min(1, float64(c.obs[hour])/float64(c.minObs))
	return (1-w)*c.table[hour] + w*c.learned[hour]
}
