package events

import (
	"github.com/mezonai/mmn-ledger/blockstore"
)

// EventRouter turns blockstore outcomes into bus events.
type EventRouter struct {
	eventBus *EventBus
}

func NewEventRouter(eventBus *EventBus) *EventRouter {
	return &EventRouter{eventBus: eventBus}
}

func (er *EventRouter) Bus() *EventBus {
	return er.eventBus
}

// PublishInsertResult emits conflicts first, then dead slots, then slots that became full
// and stayed alive.
func (er *EventRouter) PublishInsertResult(res *blockstore.InsertResult, lastIndex func(slot uint64) uint64) {
	if er == nil || res == nil {
		return
	}
	for _, proof := range res.Conflicts {
		er.eventBus.Publish(NewShredConflict(proof))
	}
	dead := make(map[uint64]struct{}, len(res.DeadSlots))
	for _, d := range res.DeadSlots {
		dead[d.Slot] = struct{}{}
		er.eventBus.Publish(NewSlotDead(d))
	}
	for _, slot := range res.FullSlots {
		if _, ok := dead[slot]; ok {
			continue
		}
		var last uint64
		if lastIndex != nil {
			last = lastIndex(slot)
		}
		er.eventBus.Publish(NewSlotFull(slot, last))
	}
}

func (er *EventRouter) PublishEvent(event LedgerEvent) {
	if er == nil {
		return
	}
	er.eventBus.Publish(event)
}
