// Package errors provides standardized error handling patterns for timemerge components.
//
// # Overview
//
// The errors package implements a three-class error classification system:
// Transient (temporary, retryable), Invalid (bad input, non-retryable), and
// Fatal (unrecoverable, stop processing).
//
// The classes map onto the engine's failure taxonomy:
//
//   - Invalid: out-of-order submissions, unrecognized channels, checksum
//     mismatches on decode. The caller can drop or re-tag; engine state is
//     untouched.
//   - Fatal: spill write failures and the degraded engine state that follows
//     them. The drained buffer contents are held, never dropped, and the
//     operator must intervene (see engine.Recover).
//   - Transient: merge read failures (the pass aborts, unread records stay
//     unread, the next pass retries) and connection-level issues.
//
// # Usage
//
// Wrap errors at component boundaries with the classification helpers:
//
//	if err := tracker.Update(ch, ts); err != nil {
//	    return errors.WrapInvalid(err, "Engine", "Submit", "watermark update")
//	}
//
// Callers branch on class, not message text:
//
//	if errors.IsInvalid(err) {
//	    metrics.rejected.Inc()
//	    return nil // drop the record, keep consuming
//	}
package errors
