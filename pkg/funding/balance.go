package funding

import "time"

// ComputeBalance folds the ledger into the authoritative balance for a
// project: the sum of project_donation and rollover amounts addressed to it.
// No cached field is ever trusted over this derivation.
func ComputeBalance(records []LedgerRecord, projectID ProjectID) int64 {
	var total int64
	for _, record := range records {
		if record.ProjectID != projectID.String() {
			continue
		}
		switch record.Type {
		case RecordTypeDonation, RecordTypeRollover:
			total += record.Amount
		}
	}
	return total
}

// CountSupporters counts distinct donor names over a project's donation
// records. Rollover records and the synthetic rollover identity are excluded.
func CountSupporters(records []LedgerRecord, projectID ProjectID) int {
	seen := make(map[string]struct{})
	for _, record := range records {
		if record.ProjectID != projectID.String() || record.Type != RecordTypeDonation {
			continue
		}
		donor := record.DonorName
		if donor == "" {
			donor = AnonymousDonorName
		}
		if donor == RolloverDonorName {
			continue
		}
		seen[donor] = struct{}{}
	}
	return len(seen)
}

// MonthlyTotals rolls ledger amounts up by calendar month ("2006-01") and
// record type, for audit export. Records with unparseable timestamps land in
// the empty-string bucket rather than being dropped.
func MonthlyTotals(records []LedgerRecord) map[string]map[RecordType]int64 {
	totals := make(map[string]map[RecordType]int64)
	for _, record := range records {
		month := ""
		if parsed, err := time.Parse(time.RFC3339, record.Timestamp); err == nil {
			month = parsed.UTC().Format("2006-01")
		}
		if totals[month] == nil {
			totals[month] = make(map[RecordType]int64)
		}
		totals[month][record.Type] += record.Amount
	}
	return totals
}
