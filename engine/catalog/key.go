package catalog

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var routeKeyArgs abi.Arguments

func init() {
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	uint64Type, err := abi.NewType("uint64", "", nil)
	if err != nil {
		panic(err)
	}
	routeKeyArgs = abi.Arguments{
		{Name: "fromToken", Type: stringType},
		{Name: "fromChain", Type: uint64Type},
		{Name: "toToken", Type: stringType},
		{Name: "toChain", Type: uint64Type},
	}
}

// RouteKey hashes the ABI encoding of the four-tuple. ABI encoding length-prefixes the token
// symbols, so distinct tuples never share an encoding.
func RouteKey(fromToken string, fromChain uint64, toToken string, toChain uint64) common.Hash {
	packed, err := routeKeyArgs.Pack(fromToken, fromChain, toToken, toChain)
	if err != nil {
		// string and uint64 values always pack
		panic(err)
	}
	return crypto.Keccak256Hash(packed)
}
