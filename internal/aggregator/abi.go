package aggregator

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABI fragments for the factory/pool/quoter reads used by direct
// router quoting. Parsed once at package init.
const (
	factoryABIJSON = `[
	  {"name":"getPool","type":"function","stateMutability":"view",
	   "inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],
	   "outputs":[{"name":"pool","type":"address"}]}
	]`

	poolABIJSON = `[
	  {"name":"liquidity","type":"function","stateMutability":"view",
	   "inputs":[],"outputs":[{"name":"","type":"uint128"}]},
	  {"name":"slot0","type":"function","stateMutability":"view",
	   "inputs":[],
	   "outputs":[
	     {"name":"sqrtPriceX96","type":"uint160"},
	     {"name":"tick","type":"int24"},
	     {"name":"observationIndex","type":"uint16"},
	     {"name":"observationCardinality","type":"uint16"},
	     {"name":"observationCardinalityNext","type":"uint16"},
	     {"name":"feeProtocol","type":"uint8"},
	     {"name":"unlocked","type":"bool"}]}
	]`

	quoterABIJSON = `[
	  {"name":"quoteExactInputSingle","type":"function","stateMutability":"nonpayable",
	   "inputs":[
	     {"name":"tokenIn","type":"address"},
	     {"name":"tokenOut","type":"address"},
	     {"name":"fee","type":"uint24"},
	     {"name":"amountIn","type":"uint256"},
	     {"name":"sqrtPriceLimitX96","type":"uint160"}],
	   "outputs":[{"name":"amountOut","type":"uint256"}]}
	]`

	erc20ABIJSON = `[
	  {"name":"decimals","type":"function","stateMutability":"view",
	   "inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	  {"name":"symbol","type":"function","stateMutability":"view",
	   "inputs":[],"outputs":[{"name":"","type":"string"}]}
	]`
)

var (
	factoryABI abi.ABI
	poolABI    abi.ABI
	quoterABI  abi.ABI
	erc20ABI   abi.ABI
)

func init() {
	var err error
	if factoryABI, err = abi.JSON(strings.NewReader(factoryABIJSON)); err != nil {
		panic("aggregator: factory abi: " + err.Error())
	}
	if poolABI, err = abi.JSON(strings.NewReader(poolABIJSON)); err != nil {
		panic("aggregator: pool abi: " + err.Error())
	}
	if quoterABI, err = abi.JSON(strings.NewReader(quoterABIJSON)); err != nil {
		panic("aggregator: quoter abi: " + err.Error())
	}
	if erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON)); err != nil {
		panic("aggregator: erc20 abi: " + err.Error())
	}
}
