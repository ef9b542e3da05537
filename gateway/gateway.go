// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gateway drives staged cross-chain transfers: outbound staging,
// optional swap into the stable asset, hand-off to the bridge, and inbound
// fill redemption with direct, relayed, or payload delivery. Escrow movement
// and message attestation live behind collaborator interfaces; the gateway
// owns the records and the rules.
package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/log"
	"go.uber.org/zap"

	"github.com/luxfi/swaplayer/jupiter"
	"github.com/luxfi/swaplayer/message"
	"github.com/luxfi/swaplayer/relayer"
)

// Ledger is the token custody collaborator. Accounts are opaque 32-byte
// addresses; the gateway derives escrow accounts and moves balances through
// this interface only.
type Ledger interface {
	Transfer(ctx context.Context, asset, from, to message.Address, amount uint64) error
	Balance(ctx context.Context, asset, account message.Address) (uint64, error)
	// TransferNative moves destination-chain gas currency, used for dropoff.
	TransferNative(ctx context.Context, from, to message.Address, amount uint64) error
}

// Bridge is the attested message transport. Submit hands a stable amount and
// an encoded settlement message to the bridge; ObserveAttested returns a fill
// the bridge has proven authentic. Authenticity is the bridge's problem, not
// the gateway's.
type Bridge interface {
	Submit(ctx context.Context, targetChain uint16, amount uint64, payload []byte) (uint64, error)
	ObserveAttested(ctx context.Context, sequence uint64) (Fill, error)
}

// Router executes a rewritten swap instruction atomically. The gateway never
// trusts the router's outcome directly; proceeds are measured as a balance
// delta on the escrow account.
type Router interface {
	Execute(ctx context.Context, ix jupiter.Instruction) error
}

// Custodian holds the privileged role assignments.
type Custodian struct {
	Owner          message.Address
	PendingOwner   message.Address
	OwnerAssistant message.Address
	FeeUpdater     message.Address
	// FeeRecipient is the stable-asset account credited with relaying fees.
	FeeRecipient message.Address
}

// Config carries the immutable deployment parameters and the initial role
// assignments. Roles persist across restarts once the gateway has run.
type Config struct {
	Owner          message.Address
	OwnerAssistant message.Address
	FeeUpdater     message.Address
	FeeRecipient   message.Address

	// StableAsset is the bridged intermediate token all transfers settle in.
	StableAsset message.Address
	// WrappedNative is the local mint gas-output swaps must target.
	WrappedNative message.Address
	// ChainClass selects the local gas-dropoff denormalization scale.
	ChainClass relayer.ChainClass
	// BridgeCustody is the account the bridge debits on Submit.
	BridgeCustody message.Address
}

// Gateway is the staged transfer state machine.
type Gateway struct {
	stable        message.Address
	wrappedNative message.Address
	chainClass    relayer.ChainClass
	bridgeCustody message.Address

	db     database.Database
	ledger Ledger
	bridge Bridge
	router Router
	log    log.Logger
	now    func() time.Time

	mu          sync.RWMutex
	custodian   Custodian
	outboundSeq uint64
}

var (
	custodianKey   = []byte("custodian")
	outboundSeqKey = []byte("outbound-seq")
	peerPrefix     = []byte("peer/")
	outboundPrefix = []byte("staged-outbound/")
	inboundPrefix  = []byte("staged-inbound/")
	redeemedPrefix = []byte("redeemed-fill/")
)

// New wires a gateway over its collaborators, restoring roles and the
// outbound sequence from db when present.
func New(cfg Config, db database.Database, ledger Ledger, bridge Bridge, router Router, logger log.Logger) (*Gateway, error) {
	for _, a := range []message.Address{cfg.Owner, cfg.FeeRecipient, cfg.StableAsset} {
		if a.IsZero() {
			return nil, ErrZeroAddress
		}
	}

	g := &Gateway{
		stable:        cfg.StableAsset,
		wrappedNative: cfg.WrappedNative,
		chainClass:    cfg.ChainClass,
		bridgeCustody: cfg.BridgeCustody,
		db:            db,
		ledger:        ledger,
		bridge:        bridge,
		router:        router,
		log:           logger,
		now:           time.Now,
		custodian: Custodian{
			Owner:          cfg.Owner,
			OwnerAssistant: cfg.OwnerAssistant,
			FeeUpdater:     cfg.FeeUpdater,
			FeeRecipient:   cfg.FeeRecipient,
		},
	}

	if raw, err := db.Get(custodianKey); err == nil {
		c, err := decodeCustodian(raw)
		if err != nil {
			return nil, err
		}
		g.custodian = c
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	if raw, err := db.Get(outboundSeqKey); err == nil && len(raw) == 8 {
		g.outboundSeq = binary.BigEndian.Uint64(raw)
	} else if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	return g, nil
}

// Custodian returns the current role assignments.
func (g *Gateway) Custodian() Custodian {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.custodian
}

// SubmitOwnershipTransfer nominates a new owner. Ownership moves only when
// the nominee confirms.
func (g *Gateway) SubmitOwnershipTransfer(caller, newOwner message.Address) error {
	if newOwner.IsZero() {
		return ErrZeroAddress
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if caller != g.custodian.Owner {
		return ErrNotOwner
	}
	g.custodian.PendingOwner = newOwner
	return g.persistCustodian()
}

// ConfirmOwnershipTransfer completes a pending transfer; only the nominee
// may call it.
func (g *Gateway) ConfirmOwnershipTransfer(caller message.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.custodian.PendingOwner.IsZero() || caller != g.custodian.PendingOwner {
		return ErrNotPendingOwner
	}
	g.custodian.Owner = caller
	g.custodian.PendingOwner = message.Address{}
	g.log.Info("ownership transferred", zap.Binary("owner", caller[:]))
	return g.persistCustodian()
}

// CancelOwnershipTransfer withdraws a pending nomination.
func (g *Gateway) CancelOwnershipTransfer(caller message.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if caller != g.custodian.Owner {
		return ErrNotOwner
	}
	g.custodian.PendingOwner = message.Address{}
	return g.persistCustodian()
}

// UpdateOwnerAssistant replaces the assistant role. Owner only.
func (g *Gateway) UpdateOwnerAssistant(caller, assistant message.Address) error {
	if assistant.IsZero() {
		return ErrZeroAddress
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if caller != g.custodian.Owner {
		return ErrNotOwner
	}
	g.custodian.OwnerAssistant = assistant
	return g.persistCustodian()
}

// UpdateFeeUpdater replaces the fee updater role.
func (g *Gateway) UpdateFeeUpdater(caller, updater message.Address) error {
	if updater.IsZero() {
		return ErrZeroAddress
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.isOwnerOrAssistant(caller) {
		return ErrNotOwnerOrAssistant
	}
	g.custodian.FeeUpdater = updater
	return g.persistCustodian()
}

// UpdateFeeRecipient repoints relaying fee credits.
func (g *Gateway) UpdateFeeRecipient(caller, recipient message.Address) error {
	if recipient.IsZero() {
		return ErrZeroAddress
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.isOwnerOrAssistant(caller) {
		return ErrNotOwnerOrAssistant
	}
	g.custodian.FeeRecipient = recipient
	return g.persistCustodian()
}

// RegisterPeer admits a remote chain endpoint with its relay pricing.
func (g *Gateway) RegisterPeer(caller message.Address, peer Peer) error {
	if peer.Address.IsZero() {
		return ErrZeroAddress
	}
	if err := relayer.Verify(peer.RelayParams); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.isOwnerOrAssistant(caller) {
		return ErrNotOwnerOrAssistant
	}
	key := peerKey(peer.Chain)
	if ok, err := g.db.Has(key); err != nil {
		return err
	} else if ok {
		return ErrPeerExists
	}
	if err := g.db.Put(key, encodePeer(peer)); err != nil {
		return err
	}
	g.log.Info("registered peer", zap.Uint16("chain", peer.Chain), zap.Binary("address", peer.Address[:]))
	return nil
}

// UpdatePeer replaces a registered peer wholesale.
func (g *Gateway) UpdatePeer(caller message.Address, peer Peer) error {
	if peer.Address.IsZero() {
		return ErrZeroAddress
	}
	if err := relayer.Verify(peer.RelayParams); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.isOwnerOrAssistant(caller) {
		return ErrNotOwnerOrAssistant
	}
	key := peerKey(peer.Chain)
	if ok, err := g.db.Has(key); err != nil {
		return err
	} else if !ok {
		return ErrChainNotAllowed
	}
	return g.db.Put(key, encodePeer(peer))
}

// UpdateRelayParams changes pricing for a registered chain. Open to the fee
// updater as well as owner and assistant.
func (g *Gateway) UpdateRelayParams(caller message.Address, chain uint16, params relayer.RelayParams) error {
	if err := relayer.Verify(params); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.isOwnerOrAssistant(caller) && caller != g.custodian.FeeUpdater {
		return ErrNotFeeUpdater
	}
	peer, err := g.peer(chain)
	if err != nil {
		return err
	}
	peer.RelayParams = params
	if err := g.db.Put(peerKey(chain), encodePeer(peer)); err != nil {
		return err
	}
	g.log.Info("updated relay params", zap.Uint16("chain", chain), zap.Uint32("baseFee", params.BaseFee))
	return nil
}

// Peer returns the registered endpoint for chain.
func (g *Gateway) Peer(chain uint16) (Peer, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.peer(chain)
}

func (g *Gateway) peer(chain uint16) (Peer, error) {
	raw, err := g.db.Get(peerKey(chain))
	if errors.Is(err, database.ErrNotFound) {
		return Peer{}, ErrChainNotAllowed
	}
	if err != nil {
		return Peer{}, err
	}
	return decodePeer(raw)
}

func (g *Gateway) isOwnerOrAssistant(caller message.Address) bool {
	if caller == g.custodian.Owner {
		return true
	}
	return !g.custodian.OwnerAssistant.IsZero() && caller == g.custodian.OwnerAssistant
}

func (g *Gateway) persistCustodian() error {
	return g.db.Put(custodianKey, encodeCustodian(g.custodian))
}

func encodeCustodian(c Custodian) []byte {
	buf := make([]byte, 0, 5*32)
	buf = append(buf, c.Owner[:]...)
	buf = append(buf, c.PendingOwner[:]...)
	buf = append(buf, c.OwnerAssistant[:]...)
	buf = append(buf, c.FeeUpdater[:]...)
	buf = append(buf, c.FeeRecipient[:]...)
	return buf
}

func decodeCustodian(data []byte) (Custodian, error) {
	if len(data) != 5*32 {
		return Custodian{}, fmt.Errorf("custodian record truncated: %d bytes", len(data))
	}
	var c Custodian
	copy(c.Owner[:], data[0:32])
	copy(c.PendingOwner[:], data[32:64])
	copy(c.OwnerAssistant[:], data[64:96])
	copy(c.FeeUpdater[:], data[96:128])
	copy(c.FeeRecipient[:], data[128:160])
	return c, nil
}

func peerKey(chain uint16) []byte {
	return append(append([]byte(nil), peerPrefix...), byte(chain>>8), byte(chain))
}

func outboundKey(id [32]byte) []byte {
	return append(append([]byte(nil), outboundPrefix...), id[:]...)
}

func inboundKey(id [32]byte) []byte {
	return append(append([]byte(nil), inboundPrefix...), id[:]...)
}

func redeemedKey(id [32]byte) []byte {
	return append(append([]byte(nil), redeemedPrefix...), id[:]...)
}
