// Package actuation turns a vibration request into a timed pair of device
// commands.
//
// Sequence sends /vibrate 1 at once and schedules /vibrate 0 after the
// requested duration (100ms by default). Each call is an independent Run
// moving through Idle, Activating, Waiting, Deactivating and Done. Runs are
// not queued or merged, so two overlapping requests put two pairs on the
// wire and the first deactivate may end the second pulse early.
//
// The sequencer checks the shared Readiness before doing anything. A request
// made before the outbound transport is open is refused with
// errors.ErrTransportNotReady and sends nothing.
//
// Call Wait during shutdown, before closing the sender, so every accepted
// activate is followed by its deactivate.
package actuation
