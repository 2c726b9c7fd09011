package openHab

// EnrichedItemDTO is the subset of an openHAB item the sink looks at.
type EnrichedItemDTO struct {
	Type       string   `json:"type"`
	Name       string   `json:"name"`
	Label      string   `json:"label"`
	Category   string   `json:"category"`
	Tags       []string `json:"tags"`
	GroupNames []string `json:"groupNames"`
	Link       string   `json:"link"`
	State      string   `json:"state"`
}
