package api

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/geocell/server/internal/chart"
	"github.com/geocell/server/internal/service"
)

//go:embed templates/dashboard.html
var templateFS embed.FS

var dashboardTemplate = template.Must(template.ParseFS(templateFS, "templates/dashboard.html"))

type pageData struct {
	Title     string
	Datasets  []DatasetInfo
	Summary   *service.Summary
	Charts    []string
	ChartsURL string
}

// pageHandler serves the dashboard page. Charts are fetched by the browser
// from the chart endpoints and rendered with vega-embed.
func pageHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc := getDatasetService(r)
		data := pageData{
			Title:     svc.Title(),
			Datasets:  registry.Datasets(),
			Summary:   svc.Summary(),
			Charts:    chart.Names,
			ChartsURL: "/d/" + svc.DatasetID() + "/api/charts",
		}

		var buf bytes.Buffer
		if err := dashboardTemplate.Execute(&buf, data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
	}
}
