package testutil

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/image/tiff"

	"imfcscli/internal/imfcs"
)

// RunFixture builds synthetic acquisition artifacts: a saved evaluation
// workbook in the sheet layout the imaging plugin writes, and a matching
// average-intensity TIFF. Construct with NewRunFixture and override fields
// before calling the writers.
//
// Every pixel gets the correlation curve Amp + lag index. The observed
// curve additionally carries Residual at every lag above zero, so fit
// quality metrics of the written run stay computable in closed form.
type RunFixture struct {
	Width     int
	Height    int
	NumLags   int
	FrameTime float64

	// Amp is the correlation amplitude at lag zero.
	Amp float64
	// Residual is added to the observed curve at every lag above zero.
	Residual float64

	// N and D are written for every fitted pixel. D is given in um^2/s
	// and stored in the workbook in m^2/s, as the plugin saves it.
	N float64
	D float64

	// Unfitted lists pixel indices (x + y*height) written with a false
	// fitted flag; their fit columns and fit curve hold zeros.
	Unfitted []int

	// Intensity is the gray value of every pixel in the TIFF.
	Intensity uint16

	// PSF, when non-nil, adds the calibration sweep sheet.
	PSF *PSFFixture
}

// NewRunFixture returns a 2x2 pixel, 6 lag fixture with a perfect fit.
func NewRunFixture() RunFixture {
	return RunFixture{
		Width:     2,
		Height:    2,
		NumLags:   6,
		FrameTime: 0.00102,
		Amp:       10,
		N:         4,
		D:         1.5,
		Intensity: 1200,
	}
}

// FitNames returns the fit parameter names the fixture writes, in column
// order starting with the fitted flag.
func (fx RunFixture) FitNames() []string {
	return []string{"Fitted", "N", "D", "G"}
}

func (fx RunFixture) unfitted(p int) bool {
	for _, u := range fx.Unfitted {
		if u == p {
			return true
		}
	}
	return false
}

// WriteWorkbook writes the saved evaluation workbook to path.
func (fx RunFixture) WriteWorkbook(t *testing.T, path string) {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for _, sheet := range []string{
		imfcs.SheetPanelParameters, imfcs.SheetLagtime, imfcs.SheetACF,
		imfcs.SheetSD, imfcs.SheetFitFunctions, imfcs.SheetFitParameters,
	} {
		_, err := f.NewSheet(sheet)
		require.NoError(t, err)
	}

	params := [][2]interface{}{
		{imfcs.ParamImageWidth, fx.Width},
		{imfcs.ParamImageHeight, fx.Height},
		{imfcs.ParamBinningX, 1},
		{imfcs.ParamBinningY, 1},
		{imfcs.ParamOverlap, "false"},
		{imfcs.ParamFrameTime, fx.FrameTime},
		{imfcs.ParamBleachCorrection, "Polynomial"},
		{imfcs.ParamPolynomialOrder, 4},
	}
	for i, kv := range params {
		setCell(t, f, imfcs.SheetPanelParameters, i, 0, kv[0])
		setCell(t, f, imfcs.SheetPanelParameters, i, 1, kv[1])
	}

	setCell(t, f, imfcs.SheetLagtime, 0, 1, "lagtime")
	for k := 0; k < fx.NumLags; k++ {
		setCell(t, f, imfcs.SheetLagtime, k+1, 1, float64(k)*fx.FrameTime)
	}

	// Correlation sheets store pixel (y, x) at row x + y*height with the
	// per-lag values from column 1.
	numPixels := fx.Width * fx.Height
	for p := 0; p < numPixels; p++ {
		setCell(t, f, imfcs.SheetACF, p, 0, p)
		setCell(t, f, imfcs.SheetSD, p, 0, p)
		setCell(t, f, imfcs.SheetFitFunctions, p, 0, p)
		for k := 0; k < fx.NumLags; k++ {
			curve := fx.Amp + float64(k)
			observed := curve
			if k > 0 {
				observed += fx.Residual
			}
			fitCurve := curve
			if fx.unfitted(p) {
				fitCurve = 0
			}
			setCell(t, f, imfcs.SheetACF, p, k+1, observed)
			setCell(t, f, imfcs.SheetSD, p, k+1, 0.01)
			setCell(t, f, imfcs.SheetFitFunctions, p, k+1, fitCurve)
		}
	}

	for col, name := range fx.FitNames() {
		setCell(t, f, imfcs.SheetFitParameters, 0, col+1, name)
	}
	for p := 0; p < numPixels; p++ {
		row := p + 1
		setCell(t, f, imfcs.SheetFitParameters, row, 0, p)
		if fx.unfitted(p) {
			setCell(t, f, imfcs.SheetFitParameters, row, 1, "false")
			setCell(t, f, imfcs.SheetFitParameters, row, 2, 0.0)
			setCell(t, f, imfcs.SheetFitParameters, row, 3, 0.0)
			setCell(t, f, imfcs.SheetFitParameters, row, 4, 0.0)
			continue
		}
		setCell(t, f, imfcs.SheetFitParameters, row, 1, "true")
		setCell(t, f, imfcs.SheetFitParameters, row, 2, fx.N)
		setCell(t, f, imfcs.SheetFitParameters, row, 3, fx.D*1e-12)
		setCell(t, f, imfcs.SheetFitParameters, row, 4, 0.001)
	}

	if fx.PSF != nil {
		fx.PSF.write(t, f)
	}

	require.NoError(t, f.DeleteSheet("Sheet1"))
	require.NoError(t, f.SaveAs(path))
}

// WriteTIFF writes the Gray16 average-intensity image to path.
func (fx RunFixture) WriteTIFF(t *testing.T, path string) {
	t.Helper()

	img := image.NewGray16(image.Rect(0, 0, fx.Width, fx.Height))
	for y := 0; y < fx.Height; y++ {
		for x := 0; x < fx.Width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: fx.Intensity})
		}
	}

	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()
	require.NoError(t, tiff.Encode(out, img, nil))
}

// WriteRunFiles writes "<key>_1.xlsx" and "<key>_1_AVR.tif" into dir and
// returns both paths.
func (fx RunFixture) WriteRunFiles(t *testing.T, dir, key string) (string, string) {
	t.Helper()

	workbook := filepath.Join(dir, fmt.Sprintf("%s_1.xlsx", key))
	intensity := filepath.Join(dir, fmt.Sprintf("%s_1_AVR.tif", key))
	fx.WriteWorkbook(t, workbook)
	fx.WriteTIFF(t, intensity)
	return workbook, intensity
}

// PSFFixture describes a calibration sweep sheet: one column triple per
// PSF value and one row per pixel binning. D and StdD are indexed
// [psf][binning] and D must hold one row per swept PSF value.
type PSFFixture struct {
	Start    float64
	End      float64
	Step     float64
	BinStart int
	D        [][]float64
	StdD     [][]float64
}

// NewPSFFixture returns a sweep of 0.6 to 0.8 in steps of 0.1 over two
// binnings, with D rising slightly along both axes.
func NewPSFFixture() *PSFFixture {
	fix := &PSFFixture{Start: 0.6, End: 0.8, Step: 0.1, BinStart: 1}
	for i := 0; i < 3; i++ {
		var d, sd []float64
		for j := 0; j < 2; j++ {
			d = append(d, 1.0+0.1*float64(i)+0.01*float64(j))
			sd = append(sd, 0.01)
		}
		fix.D = append(fix.D, d)
		fix.StdD = append(fix.StdD, sd)
	}
	return fix
}

func (fix *PSFFixture) write(t *testing.T, f *excelize.File) {
	t.Helper()

	numPSF := int(math.Ceil((fix.End-fix.Start)/fix.Step + 1))
	require.Len(t, fix.D, numPSF, "PSF fixture: D needs one row per swept value")
	numBin := len(fix.D[0])

	_, err := f.NewSheet(imfcs.SheetPSF)
	require.NoError(t, err)

	// Binning rows 1..numBin, a spacer, the label row and the parameter
	// row. The reader derives the binning count from that geometry.
	setCell(t, f, imfcs.SheetPSF, 0, 0, "binning")
	for j := 0; j < numBin; j++ {
		row := j + 1
		setCell(t, f, imfcs.SheetPSF, row, 0, fix.BinStart+j)
		for i := 0; i < numPSF; i++ {
			setCell(t, f, imfcs.SheetPSF, row, i*3+1, fix.D[i][j])
			setCell(t, f, imfcs.SheetPSF, row, i*3+2, fix.StdD[i][j])
		}
	}
	labelRow := numBin + 2
	setCell(t, f, imfcs.SheetPSF, labelRow, 0, "PSF start")
	setCell(t, f, imfcs.SheetPSF, labelRow, 1, "PSF end")
	setCell(t, f, imfcs.SheetPSF, labelRow, 2, "PSF step")
	setCell(t, f, imfcs.SheetPSF, labelRow+1, 0, fix.Start)
	setCell(t, f, imfcs.SheetPSF, labelRow+1, 1, fix.End)
	setCell(t, f, imfcs.SheetPSF, labelRow+1, 2, fix.Step)
}

func setCell(t *testing.T, f *excelize.File, sheet string, row, col int, v interface{}) {
	t.Helper()
	name, err := excelize.CoordinatesToCellName(col+1, row+1)
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue(sheet, name, v))
}
