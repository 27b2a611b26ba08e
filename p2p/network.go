package p2p

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/mezonai/mmn-ledger/exception"
	"github.com/mezonai/mmn-ledger/ingest"
	"github.com/mezonai/mmn-ledger/logx"
)

// Network joins the shred and repair topics and connects them to an ingester.
type Network struct {
	host   host.Host
	pubsub *pubsub.PubSub

	topicShreds *pubsub.Topic
	topicRepair *pubsub.Topic
	subs        []*pubsub.Subscription

	ingester *ingest.Ingester

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewNetwork(privKey ed25519.PrivateKey, listenAddr string, bootstrapPeers []string, in *ingest.Ingester) (*Network, error) {
	identity, err := crypto.UnmarshalEd25519PrivateKey(privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal ed25519 private key: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(identity),
		libp2p.ListenAddrStrings(listenAddr),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}

	ln := &Network{
		host:     h,
		pubsub:   ps,
		ingester: in,
		ctx:      ctx,
		cancel:   cancel,
	}
	ln.connectBootstrap(bootstrapPeers)

	logx.Info("NETWORK:SETUP", fmt.Sprintf("Libp2p network started with ID: %s", h.ID()))
	for _, addr := range h.Addrs() {
		logx.Info("NETWORK:SETUP", "Listening on:", addr.String())
	}
	return ln, nil
}

func (ln *Network) connectBootstrap(peers []string) {
	for _, addr := range peers {
		if addr == "" {
			continue
		}
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			logx.Error("NETWORK:SETUP", "Invalid bootstrap address:", addr, ", error:", err)
			continue
		}
		if err := ln.host.Connect(ln.ctx, *info); err != nil {
			logx.Warn("NETWORK:SETUP", "Failed to connect to bootstrap peer:", info.ID, ", error:", err)
			continue
		}
		logx.Info("NETWORK:SETUP", "Connected to bootstrap peer:", info.ID)
	}
}

func (ln *Network) ID() peer.ID {
	return ln.host.ID()
}

// Start joins both topics, installs the repair requester on the ingester and launches
// the topic handlers.
func (ln *Network) Start() error {
	var err error
	if ln.topicShreds, err = ln.pubsub.Join(TopicShreds); err != nil {
		return fmt.Errorf("join %s: %w", TopicShreds, err)
	}
	if ln.topicRepair, err = ln.pubsub.Join(TopicRepairRequests); err != nil {
		return fmt.Errorf("join %s: %w", TopicRepairRequests, err)
	}

	shredSub, err := ln.topicShreds.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicShreds, err)
	}
	repairSub, err := ln.topicRepair.Subscribe()
	if err != nil {
		shredSub.Cancel()
		return fmt.Errorf("subscribe %s: %w", TopicRepairRequests, err)
	}
	ln.subs = append(ln.subs, shredSub, repairSub)

	self := ln.host.ID()
	ln.ingester.SetRepairRequester(NewRepairRequester(self, ln.topicRepair))

	listener := NewShredListener(self, ln.ingester)
	server := NewRepairServer(self, ln.ingester.Store(), ln.topicShreds)
	exception.SafeGoWG(&ln.wg, "HandleShredTopic", func() {
		listener.HandleShredTopic(ln.ctx, shredSub)
	})
	exception.SafeGoWG(&ln.wg, "HandleRepairRequestTopic", func() {
		server.HandleRepairRequestTopic(ln.ctx, repairSub)
	})
	return nil
}

// Close stops the handlers, leaves the topics and shuts the host down. Safe to call twice.
func (ln *Network) Close() error {
	var err error
	ln.closeOnce.Do(func() {
		for _, sub := range ln.subs {
			sub.Cancel()
		}
		ln.cancel()
		ln.wg.Wait()
		if ln.topicShreds != nil {
			_ = ln.topicShreds.Close()
		}
		if ln.topicRepair != nil {
			_ = ln.topicRepair.Close()
		}
		err = ln.host.Close()
	})
	return err
}
