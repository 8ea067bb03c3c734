// Package lesson owns curated lessons and their approval lifecycle.
//
// # Lifecycle
//
// Every lesson starts as proposed. A reviewer approves or rejects it, and an
// approved lesson may later be archived:
//
//	proposed --approve--> approved --archive--> archived
//	proposed --reject---> rejected
//
// Rejected and archived are terminal. A transition on an unknown id returns
// ErrNotFound; a transition from the wrong state returns ErrInvalidTransition.
// Neither changes stored state.
//
// # Effectiveness
//
// RecordFeedback smooths observations: the first value is stored directly,
// later values follow new = 0.7*old + 0.3*incoming.
//
// # Storage
//
// Store enforces the lifecycle on top of a Repository:
//   - MemoryRepository: process memory only
//   - FileRepository: one JSON document, atomic write-through or buffered
//     with periodic flush
//   - SQLiteRepository: embedded database via modernc.org/sqlite
//   - RedisRepository: shared Redis instance
//
// A missing or corrupt JSON document starts the store empty and logs a
// warning. Write failures are returned to the caller.
//
// # Usage
//
//	repo, err := lesson.NewFileRepository("/var/lib/lessond/lessons.json", logger)
//	if err != nil {
//	    return err
//	}
//	store, err := lesson.NewStore(repo, logger)
//	if err != nil {
//	    return err
//	}
//	if err := store.Approve(ctx, id, "reviewer@example.com", "looks right"); err != nil {
//	    return err
//	}
package lesson
