package payment

import "fmt"

// Network binds a human network name to its CAIP-2 identifier and the
// USDC contract deployed there.
type Network struct {
	Name        string
	CAIP2       string
	USDCAddress string
}

var networks = map[string]Network{
	"base": {
		Name:        "base",
		CAIP2:       "eip155:8453",
		USDCAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	},
	"base-sepolia": {
		Name:        "base-sepolia",
		CAIP2:       "eip155:84532",
		USDCAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	},
}

// ResolveNetwork maps a configured network name to its chain constants.
// The mapping is fixed at coordinator construction; runtime config
// changes to the name do not retarget the facilitator.
func ResolveNetwork(name string) (Network, error) {
	n, ok := networks[name]
	if !ok {
		return Network{}, fmt.Errorf("payment: unsupported network %q", name)
	}
	return n, nil
}
