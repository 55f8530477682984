package eventbus

import "github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"

// DepositChangeKind distinguishes why a PendingDepositChanged event fired.
type DepositChangeKind string

const (
	DepositCreated DepositChangeKind = "created"
	DepositRemoved DepositChangeKind = "removed"
)

// PendingDepositChangedEvent is published whenever a deposit is created or
// removed; PoolingManager is its sole subscriber.
type PendingDepositChangedEvent struct {
	OrderID domain.OrderID
	Pair    domain.Pair
	Kind    DepositChangeKind
}

// PoolingTickEvent fires on the cadence PoolingManager computes for a
// (network, token) pair; BlockchainSync instances filter to their own pair.
type PoolingTickEvent struct {
	Pair domain.Pair
}

// MatchTickEvent is published by BlockchainSync after it commits a batch
// of newly-inserted transfer rows; OrderBookWatcher is its sole subscriber.
type MatchTickEvent struct {
	Pair                domain.Pair
	InsertedTransferIDs []int64
}

// Topics bundles the three buses the pipeline wires together. One Topics
// value is shared by the whole process (internal/app builds exactly one).
type Topics struct {
	PendingDepositChanged *Bus[PendingDepositChangedEvent]
	PoolingTick           *Bus[PoolingTickEvent]
	MatchTick             *Bus[MatchTickEvent]
}

// NewTopics builds the three topics, wiring onDrop into the given
// observer (nil is fine; internal/app passes one backed by
// ocrchmetrics.Registry.EventBusDropped).
func NewTopics(queueSize int, onDrop DropObserver) *Topics {
	return &Topics{
		PendingDepositChanged: New[PendingDepositChangedEvent]("pending_deposit_changed", queueSize, onDrop),
		PoolingTick:           New[PoolingTickEvent]("pooling_tick", queueSize, onDrop),
		MatchTick:             New[MatchTickEvent]("match_tick", queueSize, onDrop),
	}
}
