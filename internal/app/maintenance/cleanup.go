package maintenance

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/charlesng35/dropwire/internal/services"
	"github.com/charlesng35/dropwire/pkg/logger"
)

const (
	defaultSessionInterval = 30 * time.Second
	defaultUploadInterval  = 5 * time.Minute
)

// Cleaner coordinates the background sweeps: re-arming expiry timers for idle
// sessions, removing orphan directories, and expiring abandoned uploads.
type Cleaner struct {
	manager *services.SessionManager
	engine  *services.UploadEngine
	cron    *cron.Cron
	log     *zap.Logger

	sessionInterval time.Duration
	uploadInterval  time.Duration
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithSessionInterval overrides how often idle sessions are re-checked.
func WithSessionInterval(interval time.Duration) Option {
	return func(cleaner *Cleaner) {
		if interval > 0 {
			cleaner.sessionInterval = interval
		}
	}
}

// WithUploadInterval overrides how often stale uploads are swept.
func WithUploadInterval(interval time.Duration) Option {
	return func(cleaner *Cleaner) {
		if interval > 0 {
			cleaner.uploadInterval = interval
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil dependency
// results in the corresponding sweep being skipped.
func NewCleaner(manager *services.SessionManager, engine *services.UploadEngine, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		manager:         manager,
		engine:          engine,
		sessionInterval: defaultSessionInterval,
		uploadInterval:  defaultUploadInterval,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the sweep jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.manager != nil {
		spec := fmt.Sprintf("@every %s", c.sessionInterval)
		if _, err := c.cron.AddFunc(spec, func() {
			c.manager.Sweep()
		}); err != nil {
			return err
		}
	}

	if c.engine != nil {
		spec := fmt.Sprintf("@every %s", c.uploadInterval)
		if _, err := c.cron.AddFunc(spec, func() {
			if removed := c.engine.SweepExpired(); removed > 0 {
				c.log.Info("expired stale uploads", zap.Int("count", removed))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to
// complete.
func (c *Cleaner) Stop() {
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
}

// RunOnce executes all configured sweeps sequentially, outside the cron
// schedule.
func (c *Cleaner) RunOnce() {
	if c.manager != nil {
		c.manager.Sweep()
	}
	if c.engine != nil {
		c.engine.SweepExpired()
	}
}
