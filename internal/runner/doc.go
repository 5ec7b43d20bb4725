// Package runner contains the action scheduler. Once per tick it advances
// every active task, recomputes the set of free resource locks, and starts
// newly eligible actions. Ticks execute strictly one at a time; resource
// locks are the only mutual-exclusion mechanism between actions.
package runner
