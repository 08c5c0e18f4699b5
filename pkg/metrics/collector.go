package metrics

import (
	"sync"
	"time"

	"github.com/cuemby/panda/pkg/log"
)

// Collector periodically flushes the registry to a textfile so that long
// runs (cluster creation alone may take 90 minutes) can be observed before
// they finish.
type Collector struct {
	path     string
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	once     sync.Once
}

// NewCollector creates a collector writing to path every interval
func NewCollector(path string, interval time.Duration) *Collector {
	return &Collector{
		path:     path,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins flushing metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer close(c.doneCh)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the flush loop and writes a final snapshot
func (c *Collector) Stop() {
	c.once.Do(func() {
		close(c.stopCh)
		<-c.doneCh
		c.collect()
	})
}

func (c *Collector) collect() {
	if err := WriteTextfile(c.path); err != nil {
		logger := log.WithComponent("metrics")
		logger.Warn().Err(err).Str("path", c.path).Msg("Failed to write metrics textfile")
	}
}
