// Package agent implements the plan/execute loop behind the chat API.
//
// Each user message runs a bounded loop: the planner asks the model for the
// next action with the session's prior turns as context, the executor runs
// at most one tool per cycle, and the observation feeds the next planning
// call. Tool failures are observations, not errors. When the cycle ceiling
// is reached the planner is forced to summarize what it saw.
//
// Progress (plan, step, final, error) flows through an Emitter so the HTTP
// layer can stream it or collect it into a Transcript.
package agent
