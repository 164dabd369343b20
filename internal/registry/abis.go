package registry

// ABI fragments used by the chain client and swap executor.
const (
	ERC20MinimalABI = `[
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	// Forwarding contract that holds custody during the swap. Both entry
	// points take the same arguments; the native variant unwraps the wrapped
	// native token before delivery.
	DCAExecutorABI = `[
		{"name":"executeSwap","type":"function","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"},{"name":"tokenOut","type":"address"},{"name":"recipient","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"swapData","type":"bytes"}],"outputs":[]},
		{"name":"executeNativeSwap","type":"function","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"},{"name":"tokenOut","type":"address"},{"name":"recipient","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"swapData","type":"bytes"}],"outputs":[]}
	]`
)
