package selector

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var routeDataArgs abi.Arguments

func init() {
	addressType, _ := abi.NewType("address", "", nil)
	uint24Type, _ := abi.NewType("uint24", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	routeDataArgs = abi.Arguments{
		{Name: "swapPool", Type: addressType},
		{Name: "feeTier", Type: uint24Type},
		{Name: "minOut", Type: uint256Type},
	}
}

// RouteData is the caller supplied destination swap instruction
type RouteData struct {
	SwapPool common.Address
	FeeTier  uint32
	MinOut   *uint256.Int
}

// EncodeRouteData packs route data as (address swapPool, uint24 feeTier, uint256 minOut)
func EncodeRouteData(rd RouteData) ([]byte, error) {
	minOut := new(big.Int)
	if rd.MinOut != nil {
		minOut = rd.MinOut.ToBig()
	}
	return routeDataArgs.Pack(rd.SwapPool, new(big.Int).SetUint64(uint64(rd.FeeTier)), minOut)
}

// DecodeRouteData is the inverse of EncodeRouteData
func DecodeRouteData(data []byte) (RouteData, error) {
	values, err := routeDataArgs.Unpack(data)
	if err != nil {
		return RouteData{}, fmt.Errorf("%w: %v", ErrInvalidRouteData, err)
	}
	if len(values) != 3 {
		return RouteData{}, ErrInvalidRouteData
	}

	pool, ok := values[0].(common.Address)
	if !ok {
		return RouteData{}, ErrInvalidRouteData
	}
	// uint24 unpacks to *big.Int
	tier, ok := values[1].(*big.Int)
	if !ok {
		return RouteData{}, ErrInvalidRouteData
	}
	minOut, ok := values[2].(*big.Int)
	if !ok {
		return RouteData{}, ErrInvalidRouteData
	}
	out, overflow := uint256.FromBig(minOut)
	if overflow {
		return RouteData{}, ErrInvalidRouteData
	}
	return RouteData{SwapPool: pool, FeeTier: uint32(tier.Uint64()), MinOut: out}, nil
}
