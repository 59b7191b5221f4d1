package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// htlcABIJSON is the minimal ABI surface of the HTLC contract collaborator
// interface (spec §6.1). The contract itself is out of scope; this is only
// enough to encode calls and decode its events and view-call return.
const htlcABIJSON = `[
	{"type":"function","name":"create","inputs":[
		{"name":"receiver","type":"address"},
		{"name":"hashlock","type":"bytes32"},
		{"name":"timelock","type":"uint256"},
		{"name":"token","type":"address"},
		{"name":"amount","type":"uint256"}
	],"outputs":[{"name":"htlcId","type":"bytes32"}]},
	{"type":"function","name":"claim","inputs":[
		{"name":"htlcId","type":"bytes32"},
		{"name":"secret","type":"bytes32"}
	],"outputs":[]},
	{"type":"function","name":"refund","inputs":[
		{"name":"htlcId","type":"bytes32"}
	],"outputs":[]},
	{"type":"function","name":"htlcs","inputs":[
		{"name":"htlcId","type":"bytes32"}
	],"outputs":[
		{"name":"sender","type":"address"},
		{"name":"receiver","type":"address"},
		{"name":"token","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"hashlock","type":"bytes32"},
		{"name":"timelock","type":"uint256"},
		{"name":"phase","type":"uint8"}
	]},
	{"type":"event","name":"Created","inputs":[
		{"name":"htlcId","type":"bytes32","indexed":true},
		{"name":"sender","type":"address","indexed":false},
		{"name":"receiver","type":"address","indexed":false},
		{"name":"token","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"hashlock","type":"bytes32","indexed":false},
		{"name":"timelock","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"Claimed","inputs":[
		{"name":"htlcId","type":"bytes32","indexed":true},
		{"name":"secret","type":"bytes32","indexed":false}
	]},
	{"type":"event","name":"Refunded","inputs":[
		{"name":"htlcId","type":"bytes32","indexed":true}
	]}
]`

// bridgeABIJSON is the minimal ABI surface of the Bridge/Adapter contract
// collaborator interface (spec §6.1).
const bridgeABIJSON = `[
	{"type":"function","name":"createCrossChainOrder","inputs":[
		{"name":"receiver","type":"address"},
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOut","type":"uint256"},
		{"name":"hashlock","type":"bytes32"},
		{"name":"timelock","type":"uint256"}
	],"outputs":[{"name":"orderHash","type":"bytes32"}]},
	{"type":"function","name":"processIncomingOrder","inputs":[
		{"name":"orderHash","type":"bytes32"},
		{"name":"hashlock","type":"bytes32"},
		{"name":"timelock","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"fulfillIncomingOrder","inputs":[
		{"name":"orderHash","type":"bytes32"},
		{"name":"secret","type":"bytes32"}
	],"outputs":[]},
	{"type":"function","name":"refund","inputs":[
		{"name":"orderHash","type":"bytes32"}
	],"outputs":[]},
	{"type":"function","name":"getOrder","inputs":[
		{"name":"orderHash","type":"bytes32"}
	],"outputs":[
		{"name":"sourceChain","type":"string"},
		{"name":"targetChain","type":"string"},
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOut","type":"uint256"},
		{"name":"maker","type":"address"},
		{"name":"receiver","type":"address"},
		{"name":"hashlock","type":"bytes32"},
		{"name":"timelock","type":"uint256"},
		{"name":"targetTimelock","type":"uint256"},
		{"name":"state","type":"uint8"}
	]},
	{"type":"event","name":"OrderCreated","inputs":[
		{"name":"orderHash","type":"bytes32","indexed":true},
		{"name":"hashlock","type":"bytes32","indexed":false},
		{"name":"timelock","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"OrderFulfilled","inputs":[
		{"name":"orderHash","type":"bytes32","indexed":true}
	]},
	{"type":"event","name":"OrderRefunded","inputs":[
		{"name":"orderHash","type":"bytes32","indexed":true}
	]}
]`

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("evm: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

var (
	htlcABI   = mustParseABI(htlcABIJSON)
	bridgeABI = mustParseABI(bridgeABIJSON)
)
