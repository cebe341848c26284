package tracker

// rawSearchResult mirrors the provider's search response. Decoding is
// deliberately tolerant: the triage pipeline treats anything that does not
// fit this shape as an empty result.
type rawSearchResult struct {
	Issues []rawIssue `json:"issues"`
}

type rawIssue struct {
	Key    string    `json:"key"`
	Fields rawFields `json:"fields"`
}

type rawFields struct {
	Summary  string       `json:"summary"`
	Status   rawStatus    `json:"status"`
	Created  string       `json:"created"`
	Assignee *rawUser     `json:"assignee"`
	Reporter *rawUser     `json:"reporter"`
	Priority *rawPriority `json:"priority"`
}

type rawStatus struct {
	Name string `json:"name"`
}

type rawUser struct {
	DisplayName string `json:"displayName"`
}

type rawPriority struct {
	Name string `json:"name"`
}

// IssueSummary is the decision-ready projection of one issue.
type IssueSummary struct {
	Key          string  `json:"key"`
	Summary      string  `json:"summary"`
	Status       string  `json:"status"`
	Created      string  `json:"created"`
	Assignee     *string `json:"assignee"`
	Reporter     *string `json:"reporter"`
	Priority     *string `json:"priority"`
	TimeOpenDays int     `json:"timeOpenDays"`
}

// TriageResult is the summarised output of the triage pipeline.
type TriageResult struct {
	Total          int            `json:"total"`
	Items          []IssueSummary `json:"issues"`
	CountsByStatus map[string]int `json:"statusCounts"`
}
