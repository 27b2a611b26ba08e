package p2p

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/mezonai/mmn-ledger/ingest"
	"github.com/mezonai/mmn-ledger/logx"
	"github.com/mezonai/mmn-ledger/types"
)

// ShredListener feeds shreds gossiped on TopicShreds into the ingest queue. Messages carry
// the shred wire bytes unchanged; decoding and verification happen in ingest.
type ShredListener struct {
	self peer.ID
	sink ShredSink
	now  func() time.Time
}

func NewShredListener(self peer.ID, sink ShredSink) *ShredListener {
	return &ShredListener{self: self, sink: sink, now: time.Now}
}

// HandleShredTopic runs until ctx is cancelled or the subscription is closed.
func (l *ShredListener) HandleShredTopic(ctx context.Context, sub *pubsub.Subscription) {
	for {
		select {
		case <-ctx.Done():
			logx.Info("NETWORK:SHRED", "Stopping shred topic handler")
			return
		default:
			msg, err := sub.Next(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, pubsub.ErrSubscriptionCancelled) {
					return
				}
				logx.Warn("NETWORK:SHRED", "Next error:", err)
				continue
			}
			l.handle(msg.ReceivedFrom, msg.Data)
		}
	}
}

// handle returns false when the shred was not queued.
func (l *ShredListener) handle(from peer.ID, data []byte) bool {
	if from == l.self {
		logx.Debug("NETWORK:SHRED", "Skipping shred message from self")
		return false
	}
	if len(data) == 0 {
		return false
	}

	err := l.sink.Submit(types.RawShred{
		Bytes:      data,
		Peer:       from.String(),
		ReceivedAt: l.now(),
	})
	switch {
	case err == nil:
		return true
	case errors.Is(err, ingest.ErrQueueFull):
		// gossip redelivers from other peers; dropping here is the backpressure policy
		logx.Warn("NETWORK:SHRED", fmt.Sprintf("Ingest queue full, dropped shred from %s", from))
	case errors.Is(err, ingest.ErrStopped):
		logx.Debug("NETWORK:SHRED", "Ingester stopped, dropping shred")
	default:
		logx.Error("NETWORK:SHRED", "Submit error:", err)
	}
	return false
}
