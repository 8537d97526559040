// Package domain defines the core data model shared by the scanning
// pipeline: requests, per-scanner verdicts, pipeline results, and the
// error taxonomy crossing the core boundary.
package domain
