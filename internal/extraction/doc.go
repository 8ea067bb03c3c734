// Package extraction turns finished workflow runs into proposed lessons.
//
// A run is rendered into a deterministic summary (step icons ✓/✗/○,
// truncated errors, per-stage timing), scrubbed of credentials, and sent to
// a text-generation service through a Generator. The reply is decoded as
// {"lessons":[...]}, optionally wrapped in a fenced code block.
//
// # Failure handling
//
// Extraction never fails its caller. Service errors, malformed replies and
// invalid candidates are logged and produce an empty or shortened list.
// Candidates below the confidence floor (0.7 by default) are dropped even if
// the service was asked not to return them.
//
// # Usage
//
//	gen, err := extraction.NewGenerator(extraction.Config{
//	    Provider: extraction.ProviderAnthropic,
//	    APIKey:   key,
//	})
//	ex := extraction.NewExtractor(gen, extraction.DefaultMinConfidence, logger)
//	lessons := ex.Extract(ctx, run)
package extraction
