package positions

// Aerodrome Slipstream keeps the Uniswap v3 position manager shape but keys
// pools by tickSpacing instead of fee, and drops feeProtocol from slot0.

const aerodromeManagerABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"tokenOfOwnerByIndex","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"positions","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[
		{"name":"nonce","type":"uint96"},{"name":"operator","type":"address"},
		{"name":"token0","type":"address"},{"name":"token1","type":"address"},
		{"name":"tickSpacing","type":"int24"},
		{"name":"tickLower","type":"int24"},{"name":"tickUpper","type":"int24"},
		{"name":"liquidity","type":"uint128"},
		{"name":"feeGrowthInside0LastX128","type":"uint256"},{"name":"feeGrowthInside1LastX128","type":"uint256"},
		{"name":"tokensOwed0","type":"uint128"},{"name":"tokensOwed1","type":"uint128"}]}
]`

const aerodromeFactoryABI = `[
	{"name":"getPool","type":"function","stateMutability":"view","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"tickSpacing","type":"int24"}],"outputs":[{"name":"","type":"address"}]}
]`

const aerodromePoolABI = `[
	{"name":"slot0","type":"function","stateMutability":"view","inputs":[],"outputs":[
		{"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"},
		{"name":"observationIndex","type":"uint16"},{"name":"observationCardinality","type":"uint16"},
		{"name":"observationCardinalityNext","type":"uint16"},{"name":"unlocked","type":"bool"}]}
]`

// NewAerodrome creates a position source for the Aerodrome Slipstream
// position manager.
func NewAerodrome(rpcURL, managerAddr, factoryAddr string) (Source, error) {
	return newChainSource("aerodrome", rpcURL, managerAddr, factoryAddr,
		aerodromeManagerABI, aerodromeFactoryABI, aerodromePoolABI)
}
