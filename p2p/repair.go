package p2p

import (
	"context"
	"errors"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/mezonai/mmn-ledger/jsonx"
	"github.com/mezonai/mmn-ledger/logx"
	"github.com/mezonai/mmn-ledger/types"
)

// RepairRequester publishes repair requests for erasure sets that are short of shreds.
// It satisfies ingest.RepairRequester.
type RepairRequester struct {
	self  peer.ID
	topic Publisher
}

func NewRepairRequester(self peer.ID, topic Publisher) *RepairRequester {
	return &RepairRequester{self: self, topic: topic}
}

func (r *RepairRequester) RequestRepair(ctx context.Context, set types.ErasureSetID, missing []uint32) error {
	if len(missing) == 0 {
		return nil
	}
	if len(missing) > MaxRepairIndexes {
		missing = missing[:MaxRepairIndexes]
	}
	data, err := jsonx.Marshal(RepairRequestMessage{
		Slot:        set.Slot,
		FECSetIndex: set.FECSetIndex,
		Indexes:     missing,
		Requester:   r.self.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal repair request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, repairPublishTimeout)
	defer cancel()
	if err := r.topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("failed to publish repair request: %w", err)
	}
	logx.Debug("NETWORK:REPAIR", fmt.Sprintf("Requested repair for %s indexes=%v", set, missing))
	return nil
}

// RepairServer answers repair requests by republishing stored data shreds on the shred topic.
type RepairServer struct {
	self   peer.ID
	source ShredSource
	shreds Publisher
}

func NewRepairServer(self peer.ID, source ShredSource, shreds Publisher) *RepairServer {
	return &RepairServer{self: self, source: source, shreds: shreds}
}

// HandleRepairRequestTopic runs until ctx is cancelled or the subscription is closed.
func (s *RepairServer) HandleRepairRequestTopic(ctx context.Context, sub *pubsub.Subscription) {
	for {
		select {
		case <-ctx.Done():
			logx.Info("NETWORK:REPAIR", "Stopping repair request topic handler")
			return
		default:
			msg, err := sub.Next(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, pubsub.ErrSubscriptionCancelled) {
					return
				}
				logx.Warn("NETWORK:REPAIR", "Next error:", err)
				continue
			}
			if msg.ReceivedFrom == s.self {
				logx.Debug("NETWORK:REPAIR", "Skipping repair request from self")
				continue
			}

			var req RepairRequestMessage
			if err := jsonx.Unmarshal(msg.Data, &req); err != nil {
				logx.Warn("NETWORK:REPAIR", "Unmarshal error:", err)
				continue
			}
			if _, err := s.serve(ctx, req); err != nil {
				logx.Error("NETWORK:REPAIR", "Serving repair request error:", err)
			}
		}
	}
}

// serve republishes every requested shred this node holds and returns how many went out.
// Only indexes inside the requested set are considered.
func (s *RepairServer) serve(ctx context.Context, req RepairRequestMessage) (int, error) {
	indexes := req.Indexes
	if len(indexes) > MaxRepairIndexes {
		indexes = indexes[:MaxRepairIndexes]
	}

	sent := 0
	for _, index := range indexes {
		if index < req.FECSetIndex {
			continue
		}
		shred, err := s.source.GetShred(req.Slot, index)
		if err != nil {
			return sent, err
		}
		if shred == nil || shred.Common.FECSetIndex != req.FECSetIndex {
			continue
		}
		if err := s.shreds.Publish(ctx, shred.Encode()); err != nil {
			return sent, fmt.Errorf("failed to publish repaired shred %d/%d: %w", req.Slot, index, err)
		}
		sent++
	}

	if sent > 0 {
		logx.Info("NETWORK:REPAIR", fmt.Sprintf("Served %d/%d shreds for slot %d, FEC set %d to %s",
			sent, len(indexes), req.Slot, req.FECSetIndex, req.Requester))
	}
	return sent, nil
}
