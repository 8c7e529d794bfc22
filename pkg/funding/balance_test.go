package funding

import "testing"

func sampleRecords() []LedgerRecord {
	return []LedgerRecord{
		{ID: "r1", Timestamp: "2025-01-05T10:00:00Z", Type: RecordTypeDonation, Amount: 600, ProjectID: "1", DonorName: "Bob"},
		{ID: "r2", Timestamp: "2025-01-20T10:00:00Z", Type: RecordTypeDonation, Amount: 700, ProjectID: "1", DonorName: "Carol"},
		{ID: "r3", Timestamp: "2025-02-01T10:00:00Z", Type: RecordTypeRollover, Amount: 300, ProjectID: "2", DonorName: RolloverDonorName},
		{ID: "r4", Timestamp: "2025-02-02T10:00:00Z", Type: RecordTypeDonation, Amount: 50, ProjectID: "2", DonorName: ""},
		{ID: "r5", Timestamp: "2025-02-03T10:00:00Z", Type: RecordTypeDonation, Amount: 25, ProjectID: "2", DonorName: "Bob"},
		{ID: "r6", Timestamp: "2025-02-04T10:00:00Z", Type: RecordTypeDistribution, Amount: 9000, RecipientName: "shelter fund"},
	}
}

func TestComputeBalanceSumsDonationsAndRollovers(test *testing.T) {
	test.Parallel()
	records := sampleRecords()
	if balance := ComputeBalance(records, mustProjectID(test, "1")); balance != 1300 {
		test.Fatalf(balanceMismatchFmt, 1300, balance)
	}
	if balance := ComputeBalance(records, mustProjectID(test, "2")); balance != 375 {
		test.Fatalf(balanceMismatchFmt, 375, balance)
	}
}

func TestComputeBalanceIsIdempotent(test *testing.T) {
	test.Parallel()
	records := sampleRecords()
	first := ComputeBalance(records, mustProjectID(test, "1"))
	second := ComputeBalance(records, mustProjectID(test, "1"))
	if first != second {
		test.Fatalf("derivation not idempotent: %d then %d", first, second)
	}
}

func TestComputeBalanceIgnoresDistributions(test *testing.T) {
	test.Parallel()
	records := []LedgerRecord{
		{ID: "r1", Type: RecordTypeDistribution, Amount: 500, ProjectID: "1"},
		{ID: "r2", Type: RecordTypeDonation, Amount: 40, ProjectID: "1"},
	}
	if balance := ComputeBalance(records, mustProjectID(test, "1")); balance != 40 {
		test.Fatalf(balanceMismatchFmt, 40, balance)
	}
}

func TestCountSupportersDistinctDonorsOnly(test *testing.T) {
	test.Parallel()
	records := sampleRecords()
	// Project 2: rollover excluded, empty donor counts as Anonymous, Bob once.
	if supporters := CountSupporters(records, mustProjectID(test, "2")); supporters != 2 {
		test.Fatalf("expected 2 supporters, got %d", supporters)
	}
	records = append(records, LedgerRecord{ID: "r7", Type: RecordTypeDonation, Amount: 5, ProjectID: "2", DonorName: "Bob"})
	if supporters := CountSupporters(records, mustProjectID(test, "2")); supporters != 2 {
		test.Fatalf("repeat donor must not raise count, got %d", supporters)
	}
}

func TestMonthlyTotalsBucketsByMonthAndType(test *testing.T) {
	test.Parallel()
	totals := MonthlyTotals(sampleRecords())
	january := totals["2025-01"]
	if january[RecordTypeDonation] != 1300 {
		test.Fatalf("expected 1300 january donations, got %d", january[RecordTypeDonation])
	}
	february := totals["2025-02"]
	if february[RecordTypeDonation] != 75 {
		test.Fatalf("expected 75 february donations, got %d", february[RecordTypeDonation])
	}
	if february[RecordTypeRollover] != 300 {
		test.Fatalf("expected 300 february rollover, got %d", february[RecordTypeRollover])
	}
	if february[RecordTypeDistribution] != 9000 {
		test.Fatalf("expected 9000 february distribution, got %d", february[RecordTypeDistribution])
	}
}
