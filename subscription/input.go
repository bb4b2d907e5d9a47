package subscription

// Input creates a subscription.
type Input struct {
	URL         string   `json:"url"`
	Description string   `json:"description"`
	Secret      string   `json:"secret"` // generated when empty
	Events      []string `json:"events"`
	Active      *bool    `json:"active,omitempty"` // defaults to true
}

// Patch changes selected fields of a subscription. Nil fields are left
// alone.
type Patch struct {
	URL         *string  `json:"url,omitempty"`
	Description *string  `json:"description,omitempty"`
	Secret      *string  `json:"secret,omitempty"`
	Events      []string `json:"events,omitempty"`
	Active      *bool    `json:"active,omitempty"`
}
