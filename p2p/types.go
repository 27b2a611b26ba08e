package p2p

import (
	"context"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/mezonai/mmn-ledger/types"
)

// RepairRequestMessage asks peers to republish data shreds of one erasure set.
type RepairRequestMessage struct {
	Slot        uint64   `json:"slot"`
	FECSetIndex uint32   `json:"fec_set_index"`
	Indexes     []uint32 `json:"indexes"`
	Requester   string   `json:"requester"`
}

// ShredSink accepts raw shreds off the wire. *ingest.Ingester satisfies it.
type ShredSink interface {
	Submit(raw types.RawShred) error
}

// ShredSource serves stored shreds to repair requests. *blockstore.Blockstore satisfies it.
type ShredSource interface {
	GetShred(slot uint64, index uint32) (*types.Shred, error)
}

// Publisher is the publishing half of a joined topic.
type Publisher interface {
	Publish(ctx context.Context, data []byte, opts ...pubsub.PubOpt) error
}
