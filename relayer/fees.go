// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package relayer prices relayer-assisted redemptions: the fee owed to the
// party completing delivery on the destination chain, and the conversion of
// the compact on-wire gas-dropoff unit into chain-native amounts.
//
// Every function here is pure. Fees are always denominated in the protocol's
// stable asset regardless of destination chain.
package relayer

import (
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"github.com/luxfi/swaplayer/message"
)

var (
	ErrRelayingDisabled        = errors.New("relaying disabled for target chain")
	ErrInvalidGasDropoff       = errors.New("gas dropoff exceeds maximum")
	ErrRelayerFeeOverflow      = errors.New("relayer fee exceeds uint48")
	ErrInvalidExecutionParams  = errors.New("no execution pricing for target chain")
	ErrInvalidSwapRouter       = errors.New("router kind not priceable on target chain")
	ErrInvalidBaseFee          = errors.New("base fee must be positive")
	ErrInvalidNativeTokenPrice = errors.New("native token price must be positive")
	ErrInvalidMargin           = errors.New("margin exceeds 10000 bps")
	ErrInvalidGasPrice         = errors.New("gas price must be positive")
)

// MaxBps is the denominator for all margin fields: margins are basis points
// in [0, MaxBps].
const MaxBps = 10_000

// BaseFeeDisabled is the base-fee sentinel that disables relaying to a chain.
const BaseFeeDisabled = math.MaxUint32

// ChainClass distinguishes the two execution environments the protocol
// settles on. The gas-dropoff unit scales differently for each: native-gas
// decimals differ by chain, so the scale is an explicit parameter rather
// than a caller-side multiplication.
type ChainClass uint8

const (
	// ChainClassSolana is the account-based ledger; the dropoff unit scales
	// to lamports (1e9 per native token, wire unit is micro-token * 1000).
	ChainClassSolana ChainClass = iota
	// ChainClassEvm is the contract-based ledger; the dropoff unit scales to
	// wei via gwei.
	ChainClassEvm
)

const (
	gasDropoffScalarSolana = 1_000
	gasDropoffScalarEvm    = 1_000_000_000
	gasPriceScalar         = 1_000_000

	oneSol   = 1_000_000_000
	oneEther = 1_000_000_000_000_000_000

	// Gas overheads for contract-ledger redemptions, in gas units.
	evmGasOverhead       = 100_000
	dropoffGasOverhead   = 10_000
	uniswapGasOverhead   = 100_000
	uniswapGasPerSwap    = 100_000
	traderJoeGasOverhead = 100_000
	traderJoeGasPerSwap  = 100_000
)

// DenormalizeGasDropoff scales the compact on-wire gas-dropoff unit into the
// destination chain's native denomination.
func DenormalizeGasDropoff(class ChainClass, raw uint32) uint64 {
	switch class {
	case ChainClassEvm:
		return uint64(raw) * gasDropoffScalarEvm
	default:
		return uint64(raw) * gasDropoffScalarSolana
	}
}

// DenormalizeGasPrice scales the compact on-wire gas price into wei.
func DenormalizeGasPrice(raw uint32) uint64 {
	return uint64(raw) * gasPriceScalar
}

// SwapTimeLimit is the window after fill finalization during which only the
// recipient may redeem a swap-based relay, in seconds.
type SwapTimeLimit struct {
	// FastLimit applies to fast fills.
	FastLimit uint16
	// FinalizedLimit applies to finalized fills.
	FinalizedLimit uint16
}

// ExecutionParams is the chain-class-specific gas model used to price the
// relay on the target chain. Closed sum of ExecutionNone and ExecutionEvm.
type ExecutionParams interface {
	executionParams()
}

// ExecutionNone marks a target chain with no gas pricing; relaying fees
// cannot be computed for it.
type ExecutionNone struct{}

// ExecutionEvm prices relays executed on a contract ledger.
type ExecutionEvm struct {
	// GasPrice in the compact unit (multiply by 1e6 for wei).
	GasPrice uint32
	// GasPriceMargin in basis points.
	GasPriceMargin uint32
}

func (ExecutionNone) executionParams() {}
func (ExecutionEvm) executionParams()  {}

// RelayParams is the per-remote-chain fee configuration, mutated only by the
// fee-updater role.
type RelayParams struct {
	// BaseFee in stable-asset units. BaseFeeDisabled disables relaying.
	BaseFee uint32
	// NativeTokenPrice is the stable-asset price of one whole native token.
	NativeTokenPrice uint64
	// MaxGasDropoff caps the requested dropoff, in on-wire units.
	MaxGasDropoff uint32
	// GasDropoffMargin in basis points.
	GasDropoffMargin uint32
	ExecutionParams  ExecutionParams
	SwapTimeLimit    SwapTimeLimit
}

// Verify rejects parameter sets that would misprice or brick relays.
func Verify(params RelayParams) error {
	if params.BaseFee == 0 {
		return ErrInvalidBaseFee
	}
	if params.NativeTokenPrice == 0 {
		return ErrInvalidNativeTokenPrice
	}
	if params.GasDropoffMargin > MaxBps {
		return ErrInvalidMargin
	}

	switch exec := params.ExecutionParams.(type) {
	case ExecutionEvm:
		if exec.GasPrice == 0 {
			return ErrInvalidGasPrice
		}
		if exec.GasPriceMargin > MaxBps {
			return ErrInvalidMargin
		}
	case ExecutionNone:
	default:
		return fmt.Errorf("%w: %T", ErrInvalidExecutionParams, params.ExecutionParams)
	}
	return nil
}

// CalculateRelayerFee computes the stable-asset fee for relaying a transfer
// with the given gas dropoff and output token. The result is non-decreasing
// in gasDropoff for fixed other inputs, and never exceeds uint48.
func CalculateRelayerFee(params RelayParams, gasDropoff uint32, outputToken message.OutputToken) (uint64, error) {
	if params.BaseFee == BaseFeeDisabled {
		return 0, ErrRelayingDisabled
	}

	fee := uint64(params.BaseFee)

	if gasDropoff > 0 {
		if gasDropoff > params.MaxGasDropoff {
			return 0, fmt.Errorf("%w: %d > %d", ErrInvalidGasDropoff, gasDropoff, params.MaxGasDropoff)
		}
		fee = saturatingAdd(fee, gasDropoffCost(gasDropoff, params.GasDropoffMargin, params.NativeTokenPrice))
	}

	switch exec := params.ExecutionParams.(type) {
	case ExecutionEvm:
		totalGas := uint64(evmGasOverhead)
		if gasDropoff > 0 {
			totalGas += dropoffGasOverhead
		}

		swapGas, err := evmSwapOverhead(outputToken)
		if err != nil {
			return 0, err
		}
		totalGas += swapGas

		fee = saturatingAdd(fee, evmGasCost(exec.GasPrice, exec.GasPriceMargin, totalGas, params.NativeTokenPrice))
	case ExecutionNone:
		return 0, ErrInvalidExecutionParams
	}

	if fee > message.MaxRelayingFee {
		return 0, ErrRelayerFeeOverflow
	}
	return fee, nil
}

// evmSwapOverhead prices the swap legs of a contract-ledger redemption. Only
// contract-ledger routers are priceable here; a shared-accounts route cannot
// execute on a contract ledger.
func evmSwapOverhead(outputToken message.OutputToken) (uint64, error) {
	swap, ok := message.RequiresSwap(outputToken)
	if !ok {
		return 0, nil
	}

	var overhead, perSwap uint64
	switch swap.Router.(type) {
	case message.RouterUniswapV3:
		overhead, perSwap = uniswapGasOverhead, uniswapGasPerSwap
	case message.RouterTraderJoe:
		overhead, perSwap = traderJoeGasOverhead, traderJoeGasPerSwap
	case message.RouterJupiterV6:
		return 0, fmt.Errorf("%w: %T", ErrInvalidSwapRouter, swap.Router)
	default:
		return 0, fmt.Errorf("%w: %T", ErrInvalidSwapRouter, swap.Router)
	}

	return overhead + perSwap*uint64(message.SwapHops(swap.Router)), nil
}

// evmGasCost converts total gas into stable-asset terms:
// totalGas * gasPrice(wei) * nativeTokenPrice / 1e18, compounded by the
// margin. Wide intermediates avoid overflow for any misconfigured input.
func evmGasCost(gasPrice, gasPriceMargin uint32, totalGas, nativeTokenPrice uint64) uint64 {
	cost := new(uint256.Int).SetUint64(totalGas)
	cost.Mul(cost, new(uint256.Int).SetUint64(DenormalizeGasPrice(gasPrice)))
	cost.Mul(cost, new(uint256.Int).SetUint64(nativeTokenPrice))
	cost.Div(cost, new(uint256.Int).SetUint64(oneEther))
	return compound(gasPriceMargin, cost)
}

// gasDropoffCost converts the dropoff into stable-asset terms:
// denormalizedDropoff * nativeTokenPrice / 1e9, compounded by the margin.
// The dropoff is paid out on this ledger, so the account-based scale
// applies.
func gasDropoffCost(gasDropoff, gasDropoffMargin uint32, nativeTokenPrice uint64) uint64 {
	cost := new(uint256.Int).SetUint64(DenormalizeGasDropoff(ChainClassSolana, gasDropoff))
	cost.Mul(cost, new(uint256.Int).SetUint64(nativeTokenPrice))
	cost.Div(cost, new(uint256.Int).SetUint64(oneSol))
	return compound(gasDropoffMargin, cost)
}

func saturatingAdd(a, b uint64) uint64 {
	if sum := a + b; sum >= a {
		return sum
	}
	return math.MaxUint64
}

// compound adds marginBps basis points on top of base, saturating at
// MaxUint64.
func compound(marginBps uint32, base *uint256.Int) uint64 {
	if marginBps != 0 {
		margin := new(uint256.Int).Mul(base, new(uint256.Int).SetUint64(uint64(marginBps)))
		margin.Div(margin, new(uint256.Int).SetUint64(MaxBps))
		base = new(uint256.Int).Add(base, margin)
	}
	if !base.IsUint64() {
		return math.MaxUint64
	}
	return base.Uint64()
}
