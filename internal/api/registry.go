package api

import (
	"github.com/geocell/server/internal/service"
)

// DatasetInfo contains information about a dataset for the API response.
type DatasetInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Observations int    `json:"observations"`
}

// DatasetRegistry holds dashboard services for all configured datasets.
type DatasetRegistry struct {
	services       map[string]*service.DashboardService
	defaultDataset string
	datasetOrder   []string
	title          string
}

// NewDatasetRegistry creates a new dataset registry.
func NewDatasetRegistry(defaultDataset string, order []string, title string) *DatasetRegistry {
	return &DatasetRegistry{
		services:       make(map[string]*service.DashboardService),
		defaultDataset: defaultDataset,
		datasetOrder:   order,
		title:          title,
	}
}

// Register adds a dashboard service for a dataset.
func (r *DatasetRegistry) Register(datasetID string, svc *service.DashboardService) {
	r.services[datasetID] = svc
}

// Get returns the dashboard service for a dataset, or nil if not found.
func (r *DatasetRegistry) Get(datasetID string) *service.DashboardService {
	return r.services[datasetID]
}

// Default returns the default dataset's service.
func (r *DatasetRegistry) Default() *service.DashboardService {
	return r.services[r.defaultDataset]
}

// DefaultDatasetID returns the default dataset ID.
func (r *DatasetRegistry) DefaultDatasetID() string {
	return r.defaultDataset
}

// DatasetIDs returns all dataset IDs in config order.
func (r *DatasetRegistry) DatasetIDs() []string {
	return r.datasetOrder
}

// Title returns the configured site title.
func (r *DatasetRegistry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "GeoCell"
}

// Datasets returns dataset info for all registered datasets.
func (r *DatasetRegistry) Datasets() []DatasetInfo {
	infos := make([]DatasetInfo, 0, len(r.datasetOrder))
	for _, id := range r.datasetOrder {
		svc := r.services[id]
		if svc == nil {
			continue
		}
		infos = append(infos, DatasetInfo{
			ID:           id,
			Name:         svc.Title(),
			Observations: svc.Snapshot().Observations,
		})
	}
	return infos
}
