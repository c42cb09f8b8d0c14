package sessions

import "fmt"

// ThreadID builds the stable channel-scoped key a Registry binds a session
// to, e.g. "whatsapp_+15550000".
func ThreadID(channel, peerID string) string {
	return fmt.Sprintf("%s_%s", channel, peerID)
}

// SubagentThreadID builds the thread id a spawned sub-agent task's session
// is bound to, so its turns never collide with the parent thread's.
func SubagentThreadID(taskID string) string {
	return "subagent_" + taskID
}

// CronThreadID builds the thread id a scheduled job's turn runs under.
func CronThreadID(jobID string) string {
	return "cron_" + jobID
}
