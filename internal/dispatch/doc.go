// Package dispatch runs policies for domain events, manual triggers and
// scheduled sweeps.
//
// One event passes through these stages:
//   - Trigger registry: duplicate occurrences stop here.
//   - Dependency graph: active policies for (event type, entity type).
//   - Pre-filter: the policy's trigger condition against the event fields.
//   - Evaluator: consistency gate, facts, overlay, rule engine.
//   - Action router: the match or no-match action list, in order.
//   - Execution log: one row per (policy, occurrence) with the full trace.
//
// Policies are processed sequentially in dependency graph order. A failure
// in one policy is logged and recorded in its trace; it never stops the
// remaining policies or the remaining actions of the same list.
//
// Execution status:
//   - Completed: the rule engine answered, match or not.
//   - Failed: evaluation stopped early (consistency timeout, context or
//     rule engine failure). No actions run.
package dispatch
