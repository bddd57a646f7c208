package runner

import (
	"time"

	"firestige.xyz/strix/internal/flow"
	"firestige.xyz/strix/internal/log"
)

// Watchdog scans every job of every task and transitions PENDING/RUNNING
// jobs whose last ping is older than window to KILLED. Returns the number
// of killed jobs.
func Watchdog(ctx *flow.Context, window time.Duration) (int, error) {
	logger := log.GetLogger().WithField("flow", ctx.Path)
	now := time.Now().UTC()
	killed := 0
	for _, task := range ctx.SortedTasks() {
		for _, job := range task.Jobs {
			st, err := job.Status().Read()
			if err != nil {
				logger.WithError(err).Warnf("task %s: job %d status unreadable", task.Name, job.JobID)
				continue
			}
			if st.State != flow.StatePending && st.State != flow.StateRunning {
				continue
			}
			if st.IsAlive(now, window) {
				continue
			}
			logger.Warnf("task %s: job %d lost liveness, marking KILLED", task.Name, job.JobID)
			if err := job.Status().SetState(flow.StateKilled); err != nil {
				return killed, err
			}
			killed++
		}
	}
	return killed, nil
}
