package stage

import (
	"log"

	"github.com/robfig/cron/v3"
)

// Janitor runs a periodic sweep over every registered container,
// logging OSP occupancy so operators that merge aggressively (hash-join
// build phases, sort run generation) can be observed in production.
// Grounded on the teacher's job-scheduling pattern of registering a
// single background cron.Cron and adding named jobs to it at startup,
// narrowed here to one sweep job, added by Start, that visits every
// kind registered on the dispatcher at the time it runs.
type Janitor struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
}

// NewJanitor creates a janitor for dispatcher. It does not start
// sweeping until Start is called.
func NewJanitor(d *Dispatcher) *Janitor {
	return &Janitor{
		cron:       cron.New(),
		dispatcher: d,
	}
}

// Start schedules the OSP sweep at the given cron spec (e.g. "@every
// 30s") and begins running it in the background. Calling Start twice
// without Stop in between is a contract violation left to the caller to
// avoid; cron.Cron itself tolerates it but duplicate entries would
// double the log volume.
func (j *Janitor) Start(spec string) error {
	_, err := j.cron.AddFunc(spec, j.sweep)
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// sweep logs how many hosts are currently running per kind. It exists
// as a hook for future merge-table pruning (e.g. evicting hosts whose
// accepting window should close early); today the container already
// prunes completed entries on its own, so the sweep is observational.
func (j *Janitor) sweep() {
	for _, kind := range j.dispatcher.Kinds() {
		c, ok := j.dispatcher.Container(kind)
		if !ok {
			continue
		}
		c.sweepCompleted()
		if n := c.Running(); n > 0 {
			log.Printf("stage[%s]: %d packet(s) running", kind, n)
		}
	}
}

// Stop halts the background cron scheduler and waits for any in-flight
// sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}
