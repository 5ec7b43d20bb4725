// Package api exposes the read-only observability surface of the agent:
// task history, per-task detail, aggregate statistics, and the current
// per-chain opportunity scores. Scheduling is never driven through HTTP;
// these endpoints exist for dashboards and operators.
package api
