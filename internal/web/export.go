package web

import (
	"fmt"
	"strings"

	"dosu/internal/calendar"
	"dosu/internal/grid"

	"github.com/xuri/excelize/v2"
)

const tallySheet = "New patients"

var stateColors = map[grid.State]string{
	grid.StateAvailable: "#FFFFFF",
	grid.StateEmpty:     "#FAFAFA",
	grid.StateInactive:  "#EEEEEE",
	grid.StateDisabled:  "#EEEEEE",
	grid.StateActive:    "#CFE8FF",
	grid.StateBlocked:   "#999999",
	grid.StateCanceled:  "#FFD6D6",
	grid.StateNoShow:    "#FFE9B3",
	grid.StateUnknown:   "#FF00FF",
}

// MonthWorkbook lays the month overview out as a sheet with one row per
// working day and room, one column per slot index, plus a sheet with the
// new-patient tally.
func MonthWorkbook(page *calendar.MonthPage, sheet string) (*excelize.File, error) {
	if sheet == "" {
		sheet = "Schedule"
	}
	f := excelize.NewFile()

	index, err := f.NewSheet(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	styles, err := newStateStyles(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	header, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating header style: %w", err)
	}

	_ = f.SetCellValue(sheet, "A1", fmt.Sprintf("%04d-%02d", page.Year, int(page.Month)))
	_ = f.SetCellValue(sheet, "A2", "Date")
	_ = f.SetCellValue(sheet, "B2", "Room")

	widest := 0
	row := 3
	for _, md := range page.Days {
		if md.Grid == nil {
			continue
		}
		for _, rg := range md.Grid.Rooms {
			_ = f.SetCellValue(sheet, cellName(1, row), md.Date.Format("2006-01-02 (Mon)"))
			_ = f.SetCellValue(sheet, cellName(2, row), rg.Room)
			for _, c := range rg.Cells() {
				col := c.Index() + 3
				_ = f.SetCellValue(sheet, cellName(col, row), exportLabel(c))
				if style, ok := styles[c.State]; ok {
					_ = f.SetCellStyle(sheet, cellName(col, row), cellName(col, row), style)
				}
			}
			widest = max(widest, len(rg.Cells()))
			row++
		}
	}

	for i := range widest {
		_ = f.SetCellValue(sheet, cellName(i+3, 2), i)
	}
	lastCol := max(widest+2, 2)
	_ = f.SetCellStyle(sheet, "A2", cellName(lastCol, 2), header)
	_ = f.MergeCell(sheet, "A1", cellName(lastCol, 1))
	_ = f.SetColWidth(sheet, "A", "A", 18)

	if err := writeTally(f, page); err != nil {
		f.Close()
		return nil, err
	}

	if sheet != "Sheet1" {
		_ = f.DeleteSheet("Sheet1")
	}
	return f, nil
}

func writeTally(f *excelize.File, page *calendar.MonthPage) error {
	if _, err := f.NewSheet(tallySheet); err != nil {
		return fmt.Errorf("error creating tally sheet: %w", err)
	}
	_ = f.SetCellValue(tallySheet, "A1", "Worker")
	_ = f.SetCellValue(tallySheet, "B1", "New patients")
	_ = f.SetCellValue(tallySheet, "C1", "Patients")
	for i, t := range page.Tally {
		row := i + 2
		_ = f.SetCellValue(tallySheet, cellName(1, row), t.Worker)
		_ = f.SetCellValue(tallySheet, cellName(2, row), t.Count)
		_ = f.SetCellValue(tallySheet, cellName(3, row), strings.Join(t.PatientNames, ", "))
	}
	total := len(page.Tally) + 2
	_ = f.SetCellValue(tallySheet, cellName(1, total), "Total")
	_ = f.SetCellValue(tallySheet, cellName(2, total), page.TotalNewPatients)
	return nil
}

func newStateStyles(f *excelize.File) (map[grid.State]int, error) {
	styles := make(map[grid.State]int, len(stateColors))
	for state, color := range stateColors {
		id, err := f.NewStyle(&excelize.Style{
			Fill:   excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			Border: []excelize.Border{{Type: "left", Color: "#CCCCCC", Style: 1}},
		})
		if err != nil {
			return nil, fmt.Errorf("error creating %s style: %w", state, err)
		}
		styles[state] = id
	}
	return styles, nil
}

// exportLabel is the patient on an appointment's first cell and the slot
// time on unoccupied cells.
func exportLabel(c *grid.Cell) string {
	switch {
	case c.Label != nil:
		if c.Label.MRN != 0 {
			return fmt.Sprintf("%d %s", c.Label.MRN, c.Label.PatientName)
		}
		return c.Label.PatientName
	case c.Continuation:
		return ""
	case !c.State.Occupied():
		return c.Slot.Display
	}
	return ""
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
