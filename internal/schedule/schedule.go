package schedule

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Job runs Run each time the five-field cron expression Spec fires.
// Examples: "0 6 * * 1-5" (weekdays 6am), "0 0 1 * *" (first of the month).
type Job struct {
	Name     string
	Spec     string
	Location *time.Location
	Run      func(ctx context.Context)

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

func Parse(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", spec, err)
	}
	return sched, nil
}

// Next returns the next n fire times strictly after from.
func Next(spec string, from time.Time, n int) ([]time.Time, error) {
	sched, err := Parse(spec)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		from = sched.Next(from)
		out = append(out, from)
	}
	return out, nil
}

// Start launches the job loop in a goroutine. It returns once the
// expression is parsed; the loop ends when ctx is done. Runs never overlap.
func Start(ctx context.Context, job Job) error {
	if strings.TrimSpace(job.Spec) == "" {
		log.Printf("%s disabled (no schedule set)", job.Name)
		return nil
	}
	sched, err := Parse(job.Spec)
	if err != nil {
		return err
	}
	if job.Location == nil {
		job.Location = time.Local
	}
	if job.now == nil {
		job.now = time.Now
	}
	if job.after == nil {
		job.after = time.After
	}
	log.Printf("%s scheduled (cron: %s)", job.Name, job.Spec)

	go func() {
		for {
			now := job.now().In(job.Location)
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next %s at %s (in %s)", job.Name, next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			select {
			case <-ctx.Done():
				log.Printf("%s stopped: %v", job.Name, ctx.Err())
				return
			case <-job.after(wait):
			}
			if ctx.Err() != nil {
				return
			}
			job.Run(ctx)
		}
	}()
	return nil
}
