// Package feedback collects interaction outcomes for the learning protocol.
//
// The bus reports an outcome for every routed envelope: delivered, responded,
// rejected (busy or offline), timed out, or errored. The collector keeps a
// bounded window of recent outcomes per module and serves aggregate Stats
// snapshots consumed by the learning loop.
//
// # Basic Usage
//
//	col := feedback.NewMemoryCollector(feedback.MemoryConfig{WindowSize: 128})
//	defer col.Close()
//
//	col.Record(feedback.Record{
//	    ModuleID:   "translator",
//	    EnvelopeID: env.ID,
//	    Outcome:    feedback.OutcomeResponded,
//	    Latency:    120 * time.Millisecond,
//	})
//
//	stats, _ := col.Snapshot("translator")
//	fmt.Printf("success rate: %.2f\n", stats.SuccessRate)
//
// Windows are fixed-size rings: once full, each new outcome evicts the
// oldest, so stats always describe recent behavior and memory use stays
// constant under load.
package feedback
