package dto

// MaintenanceRunResponse summarizes one maintenance pass. Failed counts
// items that errored and were skipped; the pass itself still succeeds.
type MaintenanceRunResponse struct {
	ExpiredBatches     int `json:"expired_batches"`
	EndedSubscriptions int `json:"ended_subscriptions"`
	Refills            int `json:"refills"`
	Failed             int `json:"failed"`
}

// AnomalyKind classifies a reconciliation finding.
type AnomalyKind string

const (
	// AnomalyStatusDrift means local activity disagrees with the gateway
	AnomalyStatusDrift AnomalyKind = "status_drift"
	// AnomalyPlanDrift means the local plan key disagrees with the gateway
	AnomalyPlanDrift AnomalyKind = "plan_drift"
	// AnomalyOrphanLocal means an active local row has no gateway counterpart
	AnomalyOrphanLocal AnomalyKind = "orphan_local"
	// AnomalyMissingLocal means a gateway subscription has no local row
	AnomalyMissingLocal AnomalyKind = "missing_local"
	// AnomalyBalanceMismatch means a user's journal sum disagrees with
	// their batch remainders
	AnomalyBalanceMismatch AnomalyKind = "balance_mismatch"
	// AnomalyCheckFailed means the gateway could not be consulted for a row
	AnomalyCheckFailed AnomalyKind = "check_failed"
)

// ReconciliationAnomaly is one drift finding. The worker reports; it never
// heals.
type ReconciliationAnomaly struct {
	Kind           AnomalyKind `json:"kind"`
	SubscriptionID string      `json:"subscription_id,omitempty"`
	UserID         string      `json:"user_id,omitempty"`
	Detail         string      `json:"detail"`
	Critical       bool        `json:"critical"`
}

// ReconciliationRunResponse summarizes one reconciliation pass.
type ReconciliationRunResponse struct {
	Checked   int                      `json:"checked"`
	Anomalies []*ReconciliationAnomaly `json:"anomalies"`
}
