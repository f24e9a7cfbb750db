// Package bridge is the controller between the device and everything else.
//
// Inbound messages from the listener are queued with Dispatch and routed one
// at a time by a single worker, so a slow consumer or disk never stalls the
// socket read loop and message order is kept. The routing table is plain
// data, a map from address to Action:
//
//	/orientation  broadcast  {"theta":..,"phi":..} to every consumer
//	/gyro         record     one JSON line per message
//	/vibrate      log        the device's reported state
//
// Addresses not in the table are counted as errors.ErrUnroutable and
// otherwise ignored.
//
// In the other direction, consumer text equal to the trigger keyword
// ("vibrate") starts a vibration pulse through the actuation sequencer.
package bridge
