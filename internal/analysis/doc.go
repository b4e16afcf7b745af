// Package analysis derives the per-run quality metrics used to screen
// imaging FCS acquisitions.
//
// # Core Components
//
// Two per-pixel metrics are computed from the correlation data:
//
//  1. NRMSD: the root of the summed squared residuals between the observed
//     and fitted correlation curves (lag 0 excluded), scaled by the fitted
//     particle number. Low values mean the model tracks the data.
//  2. SNR: mean over population standard deviation of the early correlation
//     lags (1 through lastLag-1). High values mean the curve rises cleanly
//     out of the noise.
//
// On top of these, SummarizeRun reduces a loaded run to region statistics
// (mean, median, population std, 10th and 90th percentiles) of diffusion
// coefficient, particle number, NRMSD, SNR and average intensity, restricted
// to the run's ROI and, for the fit-derived metrics, to pixels whose fit
// converged.
//
// Dataset pools schema-compatible runs so whole-batch distributions can be
// charted and exported.
//
// # Usage Example
//
//	run, err := imfcs.LoadRun("cell1_1", "cell1_1.xlsx", "cell1_1_AVR.tif")
//	if err != nil {
//	    return err
//	}
//
//	summary, err := analysis.SummarizeRun(run, analysis.DefaultSNRLastLag)
//	if err != nil {
//	    return err
//	}
//
//	fmt.Printf("D = %.3f um^2/s over %d fitted pixels\n",
//	    summary.D.Mean, summary.ValidPixels)
//
// NaN handling follows the data: pixels without a converged fit, masked
// sweep points and empty regions propagate NaN, and Describe drops
// non-finite values before taking statistics.
package analysis
