package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/warp/indemnity-engine/indemnity"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// SPREADSHEET EXPORT
// =============================================================================

const slaSheet = "SLA"

var slaHeaders = []string{
	"Claim", "Partner", "Policy", "Type", "Status", "Declared",
	"Delay (days)", "SLA (days)", "Granted", "Committed", "Currency",
}

// SLAExport serves GET /reports/sla.xlsx: the SLA report as a workbook for
// the back office.
func (h *Handler) SLAExport(w http.ResponseWriter, r *http.Request) {
	reports, err := h.Service.SLAReport(r.Context(), CallerFrom(r.Context()), r.URL.Query().Get("partner_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	fileName := fmt.Sprintf("sla_%s.xlsx", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+fileName)
	if err := writeSLAWorkbook(w, reports); err != nil {
		h.logger.Error("failed to write SLA workbook", "error", err)
	}
}

func writeSLAWorkbook(out io.Writer, reports []indemnity.ClaimReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", slaSheet); err != nil {
		return err
	}
	for i, header := range slaHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(slaSheet, cell, header)
	}

	for i, rep := range reports {
		row := i + 2
		granted := ""
		if rep.GrantedAmount != nil {
			granted = *rep.GrantedAmount
		}
		values := []any{
			rep.ClaimID, rep.PartnerID, rep.PolicyID, string(rep.ClaimType), string(rep.Status), rep.DeclaredAt,
			rep.DelayDays, rep.SLADays, granted, rep.CommittedAmount, rep.Currency,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(slaSheet, cell, v)
		}
	}

	_, err := f.WriteTo(out)
	return err
}
