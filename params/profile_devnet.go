//go:build !mainnet && !testnet && !ci

package params

// DefaultProfile is the deployment profile compiled into this binary.
const DefaultProfile = ProfileDevnet
