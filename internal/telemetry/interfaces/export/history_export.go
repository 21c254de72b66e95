package export

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	telemetry "envsurveillance/internal/telemetry/domain"
)

const historySheet = "history"

var historyColumns = []string{"ts", "time (UTC)", "lat", "lng", "temp", "battery", "rssi", "snr"}

// BuildHistoryXLSX renders a device history window as a workbook with a
// summary sheet and one row per point.
func BuildHistoryXLSX(deviceEUI string, points []telemetry.Point, generated time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(historySheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Device History")
	_ = f.SetCellValue(summarySheet, "A3", "Device EUI")
	_ = f.SetCellValue(summarySheet, "B3", deviceEUI)
	_ = f.SetCellValue(summarySheet, "A4", "Points")
	_ = f.SetCellValue(summarySheet, "B4", len(points))
	_ = f.SetCellValue(summarySheet, "A5", "Generated")
	_ = f.SetCellValue(summarySheet, "B5", generated.UTC().Format(time.RFC3339))
	if len(points) > 0 {
		_ = f.SetCellValue(summarySheet, "A6", "First")
		_ = f.SetCellValue(summarySheet, "B6", points[0].TS.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(summarySheet, "A7", "Last")
		_ = f.SetCellValue(summarySheet, "B7", points[len(points)-1].TS.UTC().Format(time.RFC3339))
	}

	for i, title := range historyColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(historySheet, cell, title)
	}
	for i, p := range points {
		row := i + 2
		_ = f.SetCellValue(historySheet, fmt.Sprintf("A%d", row), p.TS.Unix())
		_ = f.SetCellValue(historySheet, fmt.Sprintf("B%d", row), p.TS.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(historySheet, fmt.Sprintf("C%d", row), p.Lat)
		_ = f.SetCellValue(historySheet, fmt.Sprintf("D%d", row), p.Lng)
		setOptional(f, fmt.Sprintf("E%d", row), p.Temperature)
		setOptional(f, fmt.Sprintf("F%d", row), p.Battery)
		setOptional(f, fmt.Sprintf("G%d", row), p.RSSI)
		setOptional(f, fmt.Sprintf("H%d", row), p.SNR)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Missing values stay as empty cells.
func setOptional(f *excelize.File, cell string, v *float64) {
	if v == nil {
		return
	}
	_ = f.SetCellValue(historySheet, cell, *v)
}

// BuildHistoryPDF renders a device history window as a printable table.
func BuildHistoryPDF(deviceEUI string, points []telemetry.Point, generated time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Device History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Device: %s", deviceEUI))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Points: %d", len(points)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generated.UTC().Format(time.RFC3339)))
	pdf.Ln(8)

	widths := []float64{48, 32, 32, 28, 28, 28, 28}
	headers := []string{"Time (UTC)", "Lat", "Lng", "Temp", "Battery", "RSSI", "SNR"}
	pdf.SetFont("Arial", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, p := range points {
		pdf.CellFormat(widths[0], 6, p.TS.UTC().Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[1], 6, strconv.FormatFloat(p.Lat, 'f', 6, 64), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 6, strconv.FormatFloat(p.Lng, 'f', 6, 64), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 6, optional(p.Temperature, 1), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[4], 6, optional(p.Battery, 0), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[5], 6, optional(p.RSSI, 0), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[6], 6, optional(p.SNR, 1), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func optional(v *float64, prec int) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}
