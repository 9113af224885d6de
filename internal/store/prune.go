package store

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// PrunerOpts holds parameters for StartPruner.
type PrunerOpts struct {
	DB       *gorm.DB
	Schedule string        // 5-field cron expression
	MaxAge   time.Duration // decisions older than this are removed
	Out      io.Writer     // defaults to os.Stdout
}

// StartPruner schedules route-cache pruning and returns immediately. The
// scheduler stops when ctx is cancelled.
func StartPruner(ctx context.Context, opts PrunerOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("store: pruner: db is required")
	}
	if opts.MaxAge <= 0 {
		return fmt.Errorf("store: pruner: max age must be positive")
	}
	sched, err := cronParser.Parse(opts.Schedule)
	if err != nil {
		return fmt.Errorf("store: pruner: parse schedule %q: %w", opts.Schedule, err)
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	c := cron.New(cron.WithParser(cronParser))
	c.Schedule(sched, cron.FuncJob(func() {
		n, err := PruneRoutes(opts.DB, time.Now().Add(-opts.MaxAge))
		if err != nil {
			log.Printf("store: pruner: %v", err)
			return
		}
		fmt.Fprintf(out, "store: pruned %d route decision(s)\n", n)
	}))
	c.Start()

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

// NextPrune returns the next time schedule fires after now, or the zero time
// if schedule does not parse.
func NextPrune(schedule string, now time.Time) time.Time {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(now)
}
