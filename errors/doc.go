// Package errors is the failure vocabulary of the ecosystem. Every error
// that crosses a package boundary carries a code, a category, and a
// retryable flag, so callers decide what to do next without matching on
// message strings.
//
// Four categories drive retry decisions: transient failures (unreachable
// receiver, response timeout) may clear on a new attempt; permanent ones
// (unknown module, malformed envelope, illegal status transition) will not;
// resource failures signal backpressure (full inbox, rate limits); internal
// ones indicate bugs.
//
// Typical use:
//
//	err := errors.UnknownModule("translator-2")
//	wrapped := errors.Wrap(err, "resolving receiver")
//	if errors.Is(wrapped, errors.ErrCodeUnknownModule) {
//	    // pick another candidate
//	}
//
// Errors round-trip through JSON so they can travel inside error envelopes:
//
//	data, _ := json.Marshal(ecoErr)
//	var back errors.Error
//	json.Unmarshal(data, &back)
package errors
