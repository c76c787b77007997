//go:build testnet

package params

// DefaultProfile is the deployment profile compiled into this binary.
const DefaultProfile = ProfileTestnet
