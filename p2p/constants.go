package p2p

import "time"

const (
	TopicShreds         = "ledger/shreds"
	TopicRepairRequests = "ledger/repair/request"
	AdvertiseName       = "mmn-ledger"

	// cap on indexes answered for one repair request
	MaxRepairIndexes = 64

	repairPublishTimeout = 3 * time.Second
)
