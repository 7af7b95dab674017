package store

import "fmt"

// Key builders shared by the lifecycle manager, the agent service and the
// turn runner. Durable keys are independent of the in-memory debate table,
// so history survives a stop or a process restart.

// DebateMessagesKey is the per-debate message log.
func DebateMessagesKey(debateID string) string {
	return fmt.Sprintf("debate:%s:messages", debateID)
}

// DebateFactChecksKey is the per-debate fact-check log.
func DebateFactChecksKey(debateID string) string {
	return fmt.Sprintf("debate:%s:factchecks", debateID)
}

// AgentProfileKey is the profile document of one agent.
func AgentProfileKey(agentID string) string {
	return fmt.Sprintf("agent:%s:profile", agentID)
}

// AgentMemoryKey is the per-agent, per-debate memory log.
func AgentMemoryKey(agentID, debateID string) string {
	return fmt.Sprintf("agent:%s:memory:%s", agentID, debateID)
}

// StanceKey is the stance sample series for one (debate, agent, topic).
func StanceKey(debateID, agentID, topic string) string {
	return fmt.Sprintf("stance:%s:%s:%s", debateID, agentID, topic)
}
