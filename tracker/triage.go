package tracker

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jrsteele09/go-issue-sentinel/internal/utils"
)

// createdTimeFormats are the timestamp layouts the provider has been seen
// emitting, in order of likelihood.
var createdTimeFormats = []string{
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339,
}

// defaultExcludedStatuses are always filtered out of the triage result,
// regardless of configuration.
var defaultExcludedStatuses = []string{"resolved", "done", "cancelled"}

// Pipeline filters, maps and aggregates raw search results into a
// decision-ready summary. Malformed upstream payloads are a recoverable
// condition: they produce the zero-value result, never an error.
type Pipeline struct {
	excluded map[string]struct{}
	nowTime  func() time.Time // injectable for testing
}

// PipelineOption defines a function type to modify the Pipeline instance.
type PipelineOption func(*Pipeline)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		p.nowTime = nowFunc
	}
}

// NewPipeline creates a triage pipeline. extraExcludedStatuses extends the
// built-in exclusion set with localized equivalents.
func NewPipeline(extraExcludedStatuses []string, options ...PipelineOption) *Pipeline {
	excluded := make(map[string]struct{})
	for _, s := range defaultExcludedStatuses {
		excluded[s] = struct{}{}
	}
	for _, s := range extraExcludedStatuses {
		excluded[normalizeStatus(s)] = struct{}{}
	}

	p := &Pipeline{
		excluded: excluded,
		nowTime:  time.Now,
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Process summarises a raw search response. Output is deterministic for a
// fixed clock; only TimeOpenDays depends on when it runs.
func (p *Pipeline) Process(raw json.RawMessage) *TriageResult {
	result := &TriageResult{
		Items:          []IssueSummary{},
		CountsByStatus: map[string]int{},
	}

	var parsed rawSearchResult
	if len(raw) == 0 || json.Unmarshal(raw, &parsed) != nil {
		return result
	}

	now := p.nowTime()
	for _, issue := range parsed.Issues {
		status := issue.Fields.Status.Name
		if _, skip := p.excluded[normalizeStatus(status)]; skip {
			continue
		}

		result.Items = append(result.Items, IssueSummary{
			Key:          issue.Key,
			Summary:      issue.Fields.Summary,
			Status:       status,
			Created:      issue.Fields.Created,
			Assignee:     displayName(issue.Fields.Assignee),
			Reporter:     displayName(issue.Fields.Reporter),
			Priority:     priorityName(issue.Fields.Priority),
			TimeOpenDays: ageDays(issue.Fields.Created, now),
		})
		result.CountsByStatus[status]++
	}
	result.Total = len(result.Items)

	return result
}

func normalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// ageDays is the whole number of days since the issue was created, or 0
// when the creation timestamp is missing or unparseable.
func ageDays(created string, now time.Time) int {
	if created == "" {
		return 0
	}
	for _, layout := range createdTimeFormats {
		t, err := time.Parse(layout, created)
		if err != nil {
			continue
		}
		days := int(now.Sub(t) / (24 * time.Hour))
		if days < 0 {
			return 0
		}
		return days
	}
	return 0
}

func displayName(user *rawUser) *string {
	if user == nil {
		return nil
	}
	return utils.Ptr(user.DisplayName)
}

func priorityName(priority *rawPriority) *string {
	if priority == nil {
		return nil
	}
	return utils.Ptr(priority.Name)
}
