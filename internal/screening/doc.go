// Package screening classifies imaging FCS runs against configurable
// quality thresholds and drives the interactive review flow.
//
// Evaluate turns a run summary into a verdict: hard rules (valid pixel
// count, mean NRMSD, diffusion coefficient range) fail a run, soft rules
// (mean SNR, fitted fraction) mark it for review. Session holds the runs
// of one acquisition directory with ordered navigation, lazy loading and
// per-run ROI selection, mirroring how runs are inspected one by one
// before a batch is accepted.
package screening
