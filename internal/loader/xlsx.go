package loader

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/miljoportal/tilstand/internal/model"
)

// ReadFlowWorkbook reads a flow table exported as a spreadsheet: one row per
// measurement point with a segment reference column and one column per flow
// scenario. Like LoadFlowPoints it keeps the maximum flow per (segment,
// scenario). scenarioFields maps scenario name to column header.
func ReadFlowWorkbook(path, refColumn string, scenarioFields map[string]string) (*model.FlowTable, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: open flow workbook %s", path)
	}
	if len(wb.Sheets) == 0 {
		return nil, eris.Errorf("loader: flow workbook %s has no sheets", path)
	}
	sheet := wb.Sheets[0]
	if len(sheet.Rows) < 2 {
		return nil, eris.Errorf("loader: flow workbook %s has no data rows", path)
	}

	cols := make(map[string]int)
	for i, cell := range sheet.Rows[0].Cells {
		cols[strings.TrimSpace(cell.String())] = i
	}
	refIdx, ok := cols[refColumn]
	if !ok {
		return nil, eris.Errorf("loader: flow workbook missing column %q", refColumn)
	}
	scenarioIdx := make(map[string]int, len(scenarioFields))
	for scenario, column := range scenarioFields {
		idx, ok := cols[column]
		if !ok {
			return nil, eris.Errorf("loader: flow workbook missing scenario column %q", column)
		}
		scenarioIdx[scenario] = idx
	}

	table := model.NewFlowTable()
	points := 0
	for _, row := range sheet.Rows[1:] {
		ref := cellString(row, refIdx)
		if ref == "" {
			continue
		}
		for scenario, idx := range scenarioIdx {
			raw := cellString(row, idx)
			if raw == "" {
				continue
			}
			flow, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			table.Record(ref, scenario, flow)
		}
		points++
	}

	zap.L().Info("loaded flow workbook",
		zap.String("path", path),
		zap.Int("points", points),
		zap.Int("segments", table.Segments()),
	)
	return table, nil
}

func cellString(row *xlsx.Row, idx int) string {
	if idx >= len(row.Cells) {
		return ""
	}
	return strings.TrimSpace(row.Cells[idx].String())
}
