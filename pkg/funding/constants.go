package funding

const (
	operationConfirm       = "confirm_donation"
	operationRollover      = "rollover"
	operationComplete      = "complete_project"
	operationDistribute    = "distribute_site_income"
	operationReconcile     = "reconcile"
	operationCreateProject = "create_project"
	operationTrackInvoice  = "track_invoice"

	operationStatusOK         = "ok"
	operationStatusError      = "error"
	operationStatusUnassigned = "unassigned"

	// AnonymousDonorName is substituted for donations without a display name.
	AnonymousDonorName = "Anonymous"

	// RolloverDonorName is the synthetic identity on rollover records. It is
	// part of the ledger contract and never counts as a supporter.
	RolloverDonorName = "Community Rollover"

	systemName = "fundraise"

	recentDonationsCap = 25
)
