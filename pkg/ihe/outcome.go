package ihe

import (
	"slices"
	"strings"
)

// IssueSeverity is the severity of an OperationOutcome issue
type IssueSeverity string

const (
	SeverityFatal       IssueSeverity = "fatal"
	SeverityError       IssueSeverity = "error"
	SeverityWarning     IssueSeverity = "warning"
	SeverityInformation IssueSeverity = "information"
)

// IsError reports whether the severity is fatal or error
func (s IssueSeverity) IsError() bool {
	return s == SeverityFatal || s == SeverityError
}

// Issue codes produced by the gateway itself
const (
	CodeHTTPError     = "http-error"
	CodeNotFound      = "not-found"
	CodeNotSupported  = "not-supported"
	CodeProcessing    = "processing"
	CodeInvalid       = "invalid"
	CodeMultipleMatch = "multiple-matches"
	CodeRefineQuery   = "refine-query"
	CodeSOAPFault     = "soap-fault"
)

// Details carries the human readable text of an issue
type Details struct {
	Text string `json:"text"`
}

// Issue is one problem reported in an OperationOutcome. Location names
// the document an issue is scoped to, when there is one.
type Issue struct {
	Severity IssueSeverity `json:"severity"`
	Code     string        `json:"code"`
	Details  Details       `json:"details"`
	Location []string      `json:"location,omitempty"`
}

// NewIssue is shorthand for building an Issue
func NewIssue(severity IssueSeverity, code, text string) Issue {
	return Issue{Severity: severity, Code: code, Details: Details{Text: text}}
}

// OperationOutcome reports why a transaction could not return a clean
// positive result.
type OperationOutcome struct {
	ResourceType string  `json:"resourceType"`
	ID           string  `json:"id"`
	Issue        []Issue `json:"issue"`
}

// NewOperationOutcome returns an outcome holding issues, or nil when there
// are none so that a present outcome always has at least one issue.
func NewOperationOutcome(id string, issues ...Issue) *OperationOutcome {
	if len(issues) == 0 {
		return nil
	}
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		ID:           id,
		Issue:        issues,
	}
}

// Concerns reports whether the issue is scoped to id
func (i Issue) Concerns(id string) bool {
	return slices.Contains(i.Location, id)
}

// HasErrors reports whether any issue is fatal or error
func (o *OperationOutcome) HasErrors() bool {
	if o == nil {
		return false
	}
	for _, issue := range o.Issue {
		if issue.Severity.IsError() {
			return true
		}
	}
	return false
}

// Text joins the text of all issues, for logging
func (o *OperationOutcome) Text() string {
	if o == nil {
		return ""
	}
	texts := make([]string, 0, len(o.Issue))
	for _, issue := range o.Issue {
		texts = append(texts, issue.Code+": "+issue.Details.Text)
	}
	return strings.Join(texts, "; ")
}

// Append adds issues, creating the outcome if needed
func (o *OperationOutcome) Append(id string, issues ...Issue) *OperationOutcome {
	if len(issues) == 0 {
		return o
	}
	if o == nil {
		return NewOperationOutcome(id, issues...)
	}
	o.Issue = append(o.Issue, issues...)
	return o
}
