package xca

import (
	"slices"
	"strings"

	"github.com/beevik/etree"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
)

// Status is the ebXML response status of a query or retrieval
type Status string

const (
	StatusSuccess        Status = "Success"
	StatusPartialSuccess Status = "PartialSuccess"
	StatusFailure        Status = "Failure"
	StatusUnknown        Status = ""
)

const (
	statusPrefix   = "urn:oasis:names:tc:ebxml-regrep:ResponseStatusType:"
	statusPrefixV3 = "urn:ihe:iti:2007:ResponseStatusType:"
	severityPrefix = "urn:oasis:names:tc:ebxml-regrep:ErrorSeverityType:"
)

// URN returns the wire value of the status. PartialSuccess lives in the
// IHE namespace rather than the ebXML one.
func (s Status) URN() string {
	if s == StatusPartialSuccess {
		return statusPrefixV3 + string(s)
	}
	return statusPrefix + string(s)
}

// ParseStatus reads a status from the last ":" separated segment of v
func ParseStatus(v string) Status {
	v = strings.TrimSpace(v)
	if i := strings.LastIndex(v, ":"); i >= 0 {
		v = v[i+1:]
	}
	switch Status(v) {
	case StatusSuccess, StatusPartialSuccess, StatusFailure:
		return Status(v)
	}
	return StatusUnknown
}

// QueryStatus aggregates the issues of a query answer: any error is a
// Failure, warnings alone a PartialSuccess.
func QueryStatus(outcome *ihe.OperationOutcome) Status {
	if outcome == nil || len(outcome.Issue) == 0 {
		return StatusSuccess
	}
	if outcome.HasErrors() {
		return StatusFailure
	}
	return StatusPartialSuccess
}

// RetrieveStatus aggregates a retrieval answer per document: errors with
// at least one returned document are a PartialSuccess, errors with none a
// Failure.
func RetrieveStatus(documents int, outcome *ihe.OperationOutcome) Status {
	if outcome == nil || len(outcome.Issue) == 0 {
		return StatusSuccess
	}
	if outcome.HasErrors() && documents == 0 {
		return StatusFailure
	}
	return StatusPartialSuccess
}

// Registry error codes
const (
	ErrorRegistry         = "XDSRegistryError"
	ErrorMissingDocument  = "XDSMissingDocument"
	ErrorUnknownPatientID = "XDSUnknownPatientId"
	ErrorRepository       = "XDSRepositoryError"
)

// readRegistryErrors maps every RegistryError under list to an issue
func readRegistryErrors(list *etree.Element) []ihe.Issue {
	var issues []ihe.Issue
	for _, el := range message.Children(list, "RegistryError") {
		severity := ihe.SeverityError
		if strings.HasSuffix(message.Attr(el, "severity"), "Warning") {
			severity = ihe.SeverityWarning
		}
		code := message.Attr(el, "errorCode")
		text := message.Attr(el, "codeContext")
		if text == "" {
			text = message.Text(el)
		}
		if text == "" {
			text = code
		}
		if code == "" {
			code = ErrorRegistry
		}
		issue := ihe.NewIssue(severity, code, text)
		if location := ihe.NormalizeOID(message.Attr(el, "location")); location != "" {
			issue.Location = []string{location}
			if !slices.Contains(documentIDs(text), location) {
				issue.Details.Text += " (" + location + ")"
			}
		}
		issues = append(issues, issue)
	}
	return issues
}

// writeRegistryErrors writes outcome's issues as a RegistryErrorList.
// Fatal and error issues become Error severity, the rest Warning.
func writeRegistryErrors(parent *etree.Element, outcome *ihe.OperationOutcome) {
	if outcome == nil || len(outcome.Issue) == 0 {
		return
	}
	list := message.Add(parent, "rs:RegistryErrorList")
	for _, issue := range outcome.Issue {
		severity := "Warning"
		if issue.Severity.IsError() {
			severity = "Error"
		}
		code := issue.Code
		if code == "" {
			code = ErrorRegistry
		}
		el := message.Add(list, "rs:RegistryError",
			"codeContext", issue.Details.Text,
			"errorCode", code,
			"severity", severityPrefix+severity,
		)
		if len(issue.Location) > 0 {
			el.CreateAttr("location", issue.Location[0])
		}
	}
}

// ensureFailureError keeps the rule that a Failure always carries at
// least one error issue.
func ensureFailureError(status Status, issues []ihe.Issue) []ihe.Issue {
	if status != StatusFailure {
		return issues
	}
	for _, issue := range issues {
		if issue.Severity.IsError() {
			return issues
		}
	}
	return append(issues, ihe.NewIssue(ihe.SeverityError, ErrorRegistry, "registry reported failure without an error"))
}
