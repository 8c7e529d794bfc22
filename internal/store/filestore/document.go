package filestore

import (
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/fundraise/pkg/funding"
)

// Project records are embedded in a template document as labeled regions.
// Only recognized regions are rewritten; everything else in the document
// survives updates untouched.
const (
	fieldProjectID       = "project-id"
	fieldOwner           = "owner"
	fieldTitle           = "title"
	fieldTargetAmount    = "target-amount"
	fieldCurrentAmount   = "current-amount"
	fieldSupportersCount = "supporters-count"
	fieldStatus          = "status"
	fieldDonations       = "donations"
	fieldBanner          = "banner"

	completedBanner = "<strong>Goal reached — thank you!</strong> This project is completed and no longer accepts donations."
)

const documentTemplate = `<!doctype html>
<html>
<head><title><!-- field:title --><!-- /field:title --></title></head>
<body>
<section class="project" data-project="<!-- field:project-id --><!-- /field:project-id -->" data-owner="<!-- field:owner --><!-- /field:owner -->">
  <div class="banner"><!-- field:banner --><!-- /field:banner --></div>
  <p class="progress">
    <span class="raised"><!-- field:current-amount -->0<!-- /field:current-amount --></span>
    of
    <span class="goal"><!-- field:target-amount -->0<!-- /field:target-amount --></span>
    from
    <span class="supporters"><!-- field:supporters-count -->0<!-- /field:supporters-count --></span>
    supporters
  </p>
  <p class="state"><!-- field:status -->active<!-- /field:status --></p>
  <script type="application/json" class="recent-donations"><!-- field:donations -->[]<!-- /field:donations --></script>
</section>
</body>
</html>
`

func startMarker(field string) string {
	return fmt.Sprintf("<!-- field:%s -->", field)
}

func endMarker(field string) string {
	return fmt.Sprintf("<!-- /field:%s -->", field)
}

func extractRegion(document string, field string) (string, error) {
	start := startMarker(field)
	end := endMarker(field)
	startIndex := strings.Index(document, start)
	if startIndex < 0 {
		return "", fmt.Errorf("%w: missing region %q", errMalformedDocument, field)
	}
	valueStart := startIndex + len(start)
	endOffset := strings.Index(document[valueStart:], end)
	if endOffset < 0 {
		return "", fmt.Errorf("%w: unterminated region %q", errMalformedDocument, field)
	}
	return document[valueStart : valueStart+endOffset], nil
}

func replaceRegion(document string, field string, value string) (string, error) {
	start := startMarker(field)
	end := endMarker(field)
	startIndex := strings.Index(document, start)
	if startIndex < 0 {
		return "", fmt.Errorf("%w: missing region %q", errMalformedDocument, field)
	}
	valueStart := startIndex + len(start)
	endOffset := strings.Index(document[valueStart:], end)
	if endOffset < 0 {
		return "", fmt.Errorf("%w: unterminated region %q", errMalformedDocument, field)
	}
	return document[:valueStart] + value + document[valueStart+endOffset:], nil
}

// parseProjectDocument reads the labeled regions of a document back into a
// project record.
func parseProjectDocument(document string) (funding.Project, error) {
	var project funding.Project
	var err error
	if project.ProjectID, err = extractRegion(document, fieldProjectID); err != nil {
		return funding.Project{}, err
	}
	if project.Owner, err = extractRegion(document, fieldOwner); err != nil {
		return funding.Project{}, err
	}
	title, err := extractRegion(document, fieldTitle)
	if err != nil {
		return funding.Project{}, err
	}
	project.Title = html.UnescapeString(title)
	if project.TargetAmount, err = extractAmount(document, fieldTargetAmount); err != nil {
		return funding.Project{}, err
	}
	if project.CurrentAmount, err = extractAmount(document, fieldCurrentAmount); err != nil {
		return funding.Project{}, err
	}
	supporters, err := extractAmount(document, fieldSupportersCount)
	if err != nil {
		return funding.Project{}, err
	}
	project.SupportersCount = int(supporters)
	status, err := extractRegion(document, fieldStatus)
	if err != nil {
		return funding.Project{}, err
	}
	project.Status = funding.ProjectStatus(strings.TrimSpace(status))
	donationsJSON, err := extractRegion(document, fieldDonations)
	if err != nil {
		return funding.Project{}, err
	}
	if trimmed := strings.TrimSpace(donationsJSON); trimmed != "" {
		if unmarshalErr := json.Unmarshal([]byte(trimmed), &project.RecentDonations); unmarshalErr != nil {
			return funding.Project{}, fmt.Errorf("%w: donations region: %v", errMalformedDocument, unmarshalErr)
		}
	}
	return project, nil
}

func extractAmount(document string, field string) (int64, error) {
	raw, err := extractRegion(document, field)
	if err != nil {
		return 0, err
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	value, parseErr := strconv.ParseInt(trimmed, 10, 64)
	if parseErr != nil {
		return 0, fmt.Errorf("%w: region %q is not numeric", errMalformedDocument, field)
	}
	return value, nil
}

// renderProjectDocument rewrites the labeled regions of an existing document
// from a project record, leaving all other content as it was.
func renderProjectDocument(document string, project funding.Project) (string, error) {
	donationsJSON, err := json.Marshal(donationsOrEmpty(project.RecentDonations))
	if err != nil {
		return "", fmt.Errorf("%w: donations: %v", errMalformedDocument, err)
	}
	banner := ""
	if project.Status == funding.ProjectStatusCompleted {
		banner = completedBanner
	}
	replacements := []struct {
		field string
		value string
	}{
		{fieldProjectID, project.ProjectID},
		{fieldOwner, project.Owner},
		{fieldTitle, html.EscapeString(project.Title)},
		{fieldTargetAmount, strconv.FormatInt(project.TargetAmount, 10)},
		{fieldCurrentAmount, strconv.FormatInt(project.CurrentAmount, 10)},
		{fieldSupportersCount, strconv.Itoa(project.SupportersCount)},
		{fieldStatus, string(project.Status)},
		{fieldDonations, string(donationsJSON)},
		{fieldBanner, banner},
	}
	for _, replacement := range replacements {
		document, err = replaceRegion(document, replacement.field, replacement.value)
		if err != nil {
			return "", err
		}
	}
	return document, nil
}

func donationsOrEmpty(entries []funding.DonationEntry) []funding.DonationEntry {
	if entries == nil {
		return []funding.DonationEntry{}
	}
	return entries
}
