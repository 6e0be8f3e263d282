// Package models defines the data structures shared by stores, jobs and the HTTP API.
package models

// Entry is one stored text. Its position in the store's entry log equals its
// vector's position in the index.
type Entry struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// StoreMeta is the persisted description of a store.
type StoreMeta struct {
	Name      string `json:"name"`
	Model     string `json:"model"`
	Dimension int    `json:"dim"`
	IndexType string `json:"index_type,omitempty"`
}

// StoreInfo summarizes a store for listing and inspection.
type StoreInfo struct {
	Name       string `json:"name"`
	Model      string `json:"model"`
	Dimension  int    `json:"dimension"`
	Entries    int    `json:"entries"`
	Vectors    int    `json:"vectors"`
	HasGraph   bool   `json:"has_graph"`
	DiskBytes  int64  `json:"disk_bytes"`
	Consistent bool   `json:"consistent"`
}
