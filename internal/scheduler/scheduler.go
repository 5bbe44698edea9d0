package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Cron wraps robfig/cron with the skip-if-busy and panic-recovery chain every
// periodic job here requires.
type Cron struct {
	cron *cron.Cron
	log  *logrus.Logger
}

func NewCron(log *logrus.Logger) *Cron {
	cronLog := cron.PrintfLogger(log)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLog), cron.Recover(cronLog)))
	return &Cron{cron: c, log: log}
}

func (c *Cron) Add(spec, name string, fn func()) {
	if _, err := c.cron.AddFunc(spec, fn); err != nil {
		c.log.WithFields(logrus.Fields{"job": name, "spec": spec, "error": err}).Error("failed to schedule job")
		return
	}
	c.log.WithFields(logrus.Fields{"job": name, "spec": spec}).Info("scheduled job")
}

func (c *Cron) Start() {
	c.cron.Start()
}

// Stop halts scheduling; the returned context is done once running jobs
// finish.
func (c *Cron) Stop() context.Context {
	return c.cron.Stop()
}
