// Package heartbeat provides liveness beacons and dead-module detection.
//
// A Sender beats on behalf of an in-process module: each beat bumps the
// module's last-activity timestamp in the registry and optionally fans out a
// status_update envelope to observer modules. A Monitor sweeps the registry
// for silence: a module that misses enough intervals is moved to error, and
// one silent long enough is taken offline.
//
// Both paths go through the registry's UpdateStatus, so the status state
// machine — not the monitor — has final authority, and a module that resumes
// beating after an error verdict recovers through the normal error-to-ready
// transition.
//
//	sender, _ := heartbeat.NewSender(heartbeat.SenderConfig{
//	    Registry: reg,
//	    ModuleID: id,
//	    Interval: 10 * time.Second,
//	})
//	sender.Start()
//	defer sender.Stop()
package heartbeat
