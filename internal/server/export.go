package server

import (
	"fmt"
	"net/http"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (a *API) exportXLSX(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := exportFilter(q.Get("user_id"), q.Get("from_date"), q.Get("to_date"), a.now())
	if err != nil {
		a.writeError(w, r, "export.xlsx", err)
		return
	}
	data, err := a.deps.Exporter.ExportXLSX(r.Context(), filter)
	if err != nil {
		a.writeError(w, r, "export.xlsx", err)
		return
	}
	name := "receipts.xlsx"
	if filter.From != nil && filter.To != nil {
		name = fmt.Sprintf("receipts_%s_%s.xlsx", filter.From.Format("20060102"), filter.To.Format("20060102"))
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
