// Package monitor runs the periodic maintenance sweeps.
//
// OfflineSweeper moves ONLINE devices that stopped reporting to OFFLINE
// and raises an alert for each. RetentionSweeper prunes old metric
// samples. Both are driven by a Task, which calls the sweep on a fixed
// interval until stopped.
package monitor
