// Package shutdown stops a courier process in order.
//
// Handlers register under a phase. Lower phases run first and handlers
// sharing a phase run concurrently:
//
//	PhaseIntake   gateways and console stop taking messages
//	PhaseDrain    the orchestrator finishes in-flight tasks
//	PhaseBus      the event bus stops delivering and closes
//	PhaseStorage  task store, memory and telemetry flush and close
//
// A SIGINT or SIGTERM, or an explicit Shutdown call, starts the sequence
// once. A second signal aborts the wait and cancels the remaining phases.
package shutdown
