// Package engine coordinates the lesson feedback loop.
//
// A finished run goes through ProcessRun: the extractor proposes lessons and
// the store records them for review. Retrievals, outcomes and effectiveness
// feedback are appended through RecordRetrieval, RecordOutcome and
// RecordFeedback. Run drives the periodic half: Curate archives approved
// lessons the archival policy retires, and Evaluate computes the dashboard,
// records metric snapshots, raises alerts from the active policy and routes
// them to the configured notifiers.
package engine
