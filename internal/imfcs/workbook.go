package imfcs

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"imfcscli/pkg/contracts/domain"
)

// Sheet names written by the imaging plugin when an evaluation is saved.
const (
	SheetPanelParameters = "Panel Parameters"
	SheetLagtime         = "lagtime"
	SheetACF             = "ACF1"
	SheetSD              = "SD (ACF1)"
	SheetFitFunctions    = "Fit functions (ACF1)"
	SheetFitParameters   = "Fit Parameters (ACF1)"
	SheetPSF             = "PSF"
)

// Panel parameter names required from the Panel Parameters sheet.
const (
	ParamImageWidth       = "Image width"
	ParamImageHeight      = "Image height"
	ParamBinningX         = "Binning X"
	ParamBinningY         = "Binning Y"
	ParamOverlap          = "Overlap"
	ParamFrameTime        = "Frame time"
	ParamBleachCorrection = "Bleach Correction"
	ParamPolynomialOrder  = "Polynomial Order"
)

// dParamIndex is the position of the diffusion coefficient in the fit
// parameter list: fitted flag, N, D. The plugin stores D in m^2/s.
const dParamIndex = 2

// dScale converts the stored diffusion coefficient to um^2/s.
const dScale = 1e12

// Workbook wraps one saved evaluation workbook.
type Workbook struct {
	path string
	f    *excelize.File
}

// OpenWorkbook opens a saved evaluation workbook for reading. The caller
// must Close it.
func OpenWorkbook(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	return &Workbook{path: path, f: f}, nil
}

// Close releases the underlying file.
func (w *Workbook) Close() error {
	return w.f.Close()
}

// Path returns the workbook's file path.
func (w *Workbook) Path() string {
	return w.path
}

// HasSheet reports whether the workbook contains the named sheet.
func (w *Workbook) HasSheet(name string) bool {
	for _, s := range w.f.GetSheetList() {
		if s == name {
			return true
		}
	}
	return false
}

func (w *Workbook) rows(sheet string) ([][]string, error) {
	if !w.HasSheet(sheet) {
		return nil, fmt.Errorf("%s: sheet %q not found", w.path, sheet)
	}
	rows, err := w.f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%s: read sheet %q: %w", w.path, sheet, err)
	}
	return rows, nil
}

// cell returns the trimmed cell content, or "" when the row is shorter than
// the requested column. GetRows trims trailing empty cells per row.
func cell(rows [][]string, row, col int) string {
	if row >= len(rows) || col >= len(rows[row]) {
		return ""
	}
	return strings.TrimSpace(rows[row][col])
}

func parseFloatCell(rows [][]string, sheet string, row, col int) (float64, error) {
	raw := cell(rows, row, col)
	if raw == "" {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("sheet %q row %d col %d: parse %q: %w", sheet, row, col, raw, err)
	}
	return v, nil
}

// Params reads the acquisition parameters from the Panel Parameters sheet.
// Every required parameter name must be present.
func (w *Workbook) Params() (domain.AcquisitionParams, error) {
	var params domain.AcquisitionParams

	rows, err := w.rows(SheetPanelParameters)
	if err != nil {
		return params, err
	}

	values := make(map[string]string)
	for i := range rows {
		name := cell(rows, i, 0)
		if name != "" {
			values[name] = cell(rows, i, 1)
		}
	}

	get := func(name string) (string, error) {
		v, ok := values[name]
		if !ok {
			return "", fmt.Errorf("%s: panel parameter %q not found", w.path, name)
		}
		return v, nil
	}
	getInt := func(name string) (int, error) {
		raw, err := get(name)
		if err != nil {
			return 0, err
		}
		// Values may be written as "128" or "128.0" depending on the
		// plugin version.
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: panel parameter %q: parse %q: %w", w.path, name, raw, err)
		}
		return int(f), nil
	}
	getFloat := func(name string) (float64, error) {
		raw, err := get(name)
		if err != nil {
			return 0, err
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: panel parameter %q: parse %q: %w", w.path, name, raw, err)
		}
		return f, nil
	}

	if params.ImageWidth, err = getInt(ParamImageWidth); err != nil {
		return params, err
	}
	if params.ImageHeight, err = getInt(ParamImageHeight); err != nil {
		return params, err
	}
	if params.BinningX, err = getInt(ParamBinningX); err != nil {
		return params, err
	}
	if params.BinningY, err = getInt(ParamBinningY); err != nil {
		return params, err
	}
	if params.FrameTime, err = getFloat(ParamFrameTime); err != nil {
		return params, err
	}
	if params.PolynomialOrder, err = getInt(ParamPolynomialOrder); err != nil {
		return params, err
	}

	overlapRaw, err := get(ParamOverlap)
	if err != nil {
		return params, err
	}
	params.Overlap, err = strconv.ParseBool(strings.ToLower(overlapRaw))
	if err != nil {
		return params, fmt.Errorf("%s: panel parameter %q: parse %q: %w", w.path, ParamOverlap, overlapRaw, err)
	}

	if params.BleachCorrection, err = get(ParamBleachCorrection); err != nil {
		return params, err
	}

	if params.ImageWidth < 1 || params.ImageHeight < 1 {
		return params, fmt.Errorf("%s: invalid image dimensions %dx%d", w.path, params.ImageWidth, params.ImageHeight)
	}

	return params, nil
}

// Lagtimes reads the lag time axis. The sheet stores a header cell in row 0;
// the values follow in column 1.
func (w *Workbook) Lagtimes() ([]float64, error) {
	rows, err := w.rows(SheetLagtime)
	if err != nil {
		return nil, err
	}

	var lags []float64
	for i := 1; i < len(rows); i++ {
		raw := cell(rows, i, 1)
		if raw == "" {
			break
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("sheet %q row %d: parse lag time %q: %w", SheetLagtime, i, raw, err)
		}
		lags = append(lags, v)
	}
	if len(lags) == 0 {
		return nil, fmt.Errorf("%s: sheet %q contains no lag times", w.path, SheetLagtime)
	}
	return lags, nil
}

// Correlation reads a per-pixel correlation sheet (ACF1, SD (ACF1) or
// Fit functions (ACF1)) into a height x width x numLags cube. Pixel (y, x)
// is stored at sheet row x + y*height; the per-lag values start at column 1.
func (w *Workbook) Correlation(sheet string, width, height, numLags int) (*Cube, error) {
	rows, err := w.rows(sheet)
	if err != nil {
		return nil, err
	}

	need := width * height
	if len(rows) < need {
		return nil, fmt.Errorf("%s: sheet %q has %d rows, need %d pixel rows", w.path, sheet, len(rows), need)
	}

	c := NewCube(height, width, numLags)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			rowIdx := x + y*height
			for k := 0; k < numLags; k++ {
				v, err := parseFloatCell(rows, sheet, rowIdx, k+1)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", w.path, err)
				}
				c.Set(y, x, k, v)
			}
		}
	}
	return c, nil
}

// FitParameterNames reads the fit parameter names from the header row of the
// Fit Parameters sheet. Index 0 is the fitted flag column.
func (w *Workbook) FitParameterNames() ([]string, error) {
	rows, err := w.rows(SheetFitParameters)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: sheet %q is empty", w.path, SheetFitParameters)
	}

	var names []string
	for col := 1; col < len(rows[0]); col++ {
		name := cell(rows, 0, col)
		if name == "" {
			break
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%s: sheet %q has no parameter names", w.path, SheetFitParameters)
	}
	return names, nil
}

// FitResults reads the per-pixel fit results into a height x width x
// numParams cube. Depth index 0 holds the fitted flag (1 fitted, 0 not);
// the remaining indices follow the parameter name order. Pixel (y, x) is at
// sheet row x + y*height + 1.
func (w *Workbook) FitResults(width, height int) (*Cube, []string, error) {
	names, err := w.FitParameterNames()
	if err != nil {
		return nil, nil, err
	}

	rows, err := w.rows(SheetFitParameters)
	if err != nil {
		return nil, nil, err
	}

	need := width*height + 1
	if len(rows) < need {
		return nil, nil, fmt.Errorf("%s: sheet %q has %d rows, need %d", w.path, SheetFitParameters, len(rows), need)
	}

	numParam := len(names)
	c := NewCube(height, width, numParam)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			rowIdx := x + y*height + 1

			// Fitted flag: the plugin writes true/false, older
			// versions wrote 1/0.
			flagRaw := strings.ToLower(cell(rows, rowIdx, 1))
			switch flagRaw {
			case "true":
				c.Set(y, x, 0, 1)
			case "false", "":
				c.Set(y, x, 0, 0)
			default:
				v, err := strconv.ParseFloat(flagRaw, 64)
				if err != nil {
					return nil, nil, fmt.Errorf("%s: sheet %q row %d: parse fitted flag %q: %w", w.path, SheetFitParameters, rowIdx, flagRaw, err)
				}
				c.Set(y, x, 0, v)
			}

			for k := 1; k < numParam; k++ {
				v, err := parseFloatCell(rows, SheetFitParameters, rowIdx, k+1)
				if err != nil {
					return nil, nil, fmt.Errorf("%s: %w", w.path, err)
				}
				c.Set(y, x, k, v)
			}
		}
	}
	return c, names, nil
}

// PSFGrid holds the calibration sweep read from the PSF sheet: a D and a
// stdD plane, each numPSF x numBin.
type PSFGrid struct {
	Params domain.PSFParams
	D      *Plane
	StdD   *Plane
}

// PSF reads the calibration sweep from the PSF sheet. The sheet stores one
// column triple per PSF value and one row per pixel binning; the sweep
// parameters sit in the row after the "PSF start" label.
func (w *Workbook) PSF() (*PSFGrid, error) {
	rows, err := w.rows(SheetPSF)
	if err != nil {
		return nil, err
	}

	labelRow := -1
	for i := range rows {
		if cell(rows, i, 0) == "PSF start" {
			labelRow = i
			break
		}
	}
	if labelRow < 0 {
		return nil, fmt.Errorf("%s: sheet %q: label %q not found", w.path, SheetPSF, "PSF start")
	}
	paramRow := labelRow + 1

	start, err := parseFloatCell(rows, SheetPSF, paramRow, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", w.path, err)
	}
	end, err := parseFloatCell(rows, SheetPSF, paramRow, 1)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", w.path, err)
	}
	step, err := parseFloatCell(rows, SheetPSF, paramRow, 2)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", w.path, err)
	}
	if step <= 0 || math.IsNaN(step) {
		return nil, fmt.Errorf("%s: sheet %q: invalid psf step %v", w.path, SheetPSF, step)
	}

	numBin := paramRow - 3
	if numBin < 1 {
		return nil, fmt.Errorf("%s: sheet %q: no binning rows before parameter block", w.path, SheetPSF)
	}

	binStartF, err := parseFloatCell(rows, SheetPSF, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", w.path, err)
	}
	binStart := int(binStartF)

	params := domain.PSFParams{
		Start:    start,
		End:      end,
		Step:     step,
		NumPSF:   int(math.Ceil((end-start)/step + 1)),
		NumBin:   numBin,
		BinStart: binStart,
		BinEnd:   binStart + numBin - 1,
	}

	grid := &PSFGrid{
		Params: params,
		D:      NewPlane(params.NumPSF, params.NumBin),
		StdD:   NewPlane(params.NumPSF, params.NumBin),
	}
	for i := 0; i < params.NumPSF; i++ {
		for j := 0; j < params.NumBin; j++ {
			col := i * 3
			row := j + 1
			d, err := parseFloatCell(rows, SheetPSF, row, col+1)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", w.path, err)
			}
			sd, err := parseFloatCell(rows, SheetPSF, row, col+2)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", w.path, err)
			}
			grid.D.Set(i, j, d)
			grid.StdD.Set(i, j, sd)
		}
	}

	slog.Debug("read psf sheet",
		slog.String("file", w.path),
		slog.Int("num_psf", params.NumPSF),
		slog.Int("num_bin", params.NumBin))

	return grid, nil
}
