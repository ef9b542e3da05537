// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gateway

import "errors"

var (
	// Authorization.
	ErrNotOwner            = errors.New("caller is not the owner")
	ErrNotPendingOwner     = errors.New("caller is not the pending owner")
	ErrNotOwnerOrAssistant = errors.New("caller is neither owner nor owner assistant")
	ErrNotFeeUpdater       = errors.New("caller is not authorized to update relay parameters")
	ErrNotSenderOrPreparer = errors.New("caller neither staged nor funded this transfer")

	// Validation.
	ErrZeroAddress            = errors.New("address must not be zero")
	ErrZeroAmountIn           = errors.New("amount in must be positive")
	ErrInvalidRecipient       = errors.New("recipient does not match")
	ErrMinAmountOutRequired   = errors.New("min amount out required when the source asset needs a swap")
	ErrInvalidLimitAmount     = errors.New("limit amount must be positive")
	ErrInvalidSwapInAmount    = errors.New("swap in amount must be positive")
	ErrChainNotAllowed        = errors.New("no peer registered for chain")
	ErrPeerExists             = errors.New("peer already registered for chain")
	ErrPeerMismatch           = errors.New("fill sender is not the registered peer")
	ErrInvalidRedeemMode      = errors.New("redeem mode not valid for this operation")
	ErrInvalidSourceMint      = errors.New("route source mint does not match the escrowed asset")
	ErrInvalidDestinationMint = errors.New("route destination mint does not match the requested output")
	ErrRouteRequired          = errors.New("output token requires a route instruction")
	ErrStagedNotFound         = errors.New("no staged record for id")
	ErrStagedExists           = errors.New("staged record already exists")
	ErrFillAlreadyRedeemed    = errors.New("fill already redeemed")
	ErrOutboundSwapped        = errors.New("staged outbound already swapped")
	ErrSwapRequired           = errors.New("source asset must be swapped before handing to the bridge")

	// Economic.
	ErrExceedsMaxRelayingFee    = errors.New("computed relaying fee exceeds the sender's maximum")
	ErrInsufficientAmountOut    = errors.New("swap proceeds below the enforced minimum")
	ErrSwapPastDeadline         = errors.New("swap deadline has passed")
	ErrSwapTimeLimitNotExceeded = errors.New("swap redemption reserved for the recipient until the time limit elapses")
)
