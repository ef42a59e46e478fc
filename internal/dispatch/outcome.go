package dispatch

// DeliveryOutcome tags the result of one recipient's delivery attempt. It is
// never persisted and never gates the batch result; it only drives logging
// and diagnostics.
type DeliveryOutcome struct {
	Address      string
	Succeeded    bool
	Skipped      bool
	ErrorSummary string
}
