package models

// SearchHit is a single nearest-neighbour result.
type SearchHit struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float32 `json:"score"`
}

// PathNode is one node on a graph path.
type PathNode struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// GraphPath is the result of a shortest-path query. Distance is the weight of the
// full path even when Nodes was subsampled.
type GraphPath struct {
	Nodes    []PathNode `json:"nodes"`
	Distance float32    `json:"distance"`
}

// InterpolationStep holds the hits for one point between two sentences.
type InterpolationStep struct {
	Step    int         `json:"step"`
	Results []SearchHit `json:"results"`
}

// InterpolationResponse is the result of an interpolation query.
type InterpolationResponse struct {
	Interpolations []InterpolationStep `json:"interpolations"`
}
