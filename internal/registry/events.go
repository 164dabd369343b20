package registry

// Topic0 of the executor's swap-completion event:
//
//	event SwapExecuted(
//	    address indexed user,
//	    address recipient,
//	    address toToken,
//	    uint256 amountIn,
//	    uint256 indexed amountOut,
//	    uint256 feeAmount
//	);
const SwapExecutedTopic = "0xad671c9d50262b75ba17bdf7e330ae0d7da971800b2526584a85f83d23296b15"
