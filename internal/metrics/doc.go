// Package metrics records workflow outcomes, retrieval events and metric
// snapshots, and computes leading and lagging indicators over sliding
// lookback windows.
//
// Leading indicators (relevance, coverage, latency) predict whether lessons
// will help; lagging indicators (success-rate lift, error reduction,
// satisfaction) measure whether they did. A record is inside a window when
// its timestamp is at or after now minus the lookback.
package metrics
