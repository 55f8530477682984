package domain

// SyncCursor is the derived per-(network,token) position BlockchainSync
// resumes from. It is recomputed (by a storage-layer trigger/materialized
// view, see internal/store) on every transfer insert/update, never
// written directly by application code.
type SyncCursor struct {
	Pair                  Pair
	Position              int64
	HasPendingConfirmation bool
}
