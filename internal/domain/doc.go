// Package domain holds the task and build definitions shared by every
// buildgraph component, together with the status snapshots the tracker hands
// out. Values in this package are plain data; copies are safe to share.
package domain
