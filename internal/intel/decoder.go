package intel

import (
	"math/big"
	"strings"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// wordChars is one ABI-encoded word in hex characters.
const wordChars = 64

type argSpec struct {
	name string
	typ  string
}

type methodSpec struct {
	signature   string
	args        []argSpec
	bridge      bool
	bridgeChain domain.ChainID
}

// Decoder matches call data against a registry of known 4-byte selectors.
// Unknown selectors decode to nil; the raw call data stays on the transaction.
type Decoder struct {
	methods map[string]methodSpec
}

// NewDecoder builds a decoder with the built-in method registry.
func NewDecoder() *Decoder {
	return &Decoder{methods: map[string]methodSpec{
		"0xa9059cbb": {
			signature: "transfer(address,uint256)",
			args: []argSpec{
				{"to", "address"},
				{"amount", "uint256"},
			},
		},
		"0x23b872dd": {
			signature: "transferFrom(address,address,uint256)",
			args: []argSpec{
				{"from", "address"},
				{"to", "address"},
				{"amount", "uint256"},
			},
		},
		"0x095ea7b3": {
			signature: "approve(address,uint256)",
			args: []argSpec{
				{"spender", "address"},
				{"amount", "uint256"},
			},
		},
		"0x38ed1739": {
			signature: "swapExactTokensForTokens(uint256,uint256,address[],address,uint256)",
			args: []argSpec{
				{"amountIn", "uint256"},
				{"amountOutMin", "uint256"},
				{"path", "offset"},
				{"to", "address"},
				{"deadline", "uint256"},
			},
		},
		"0x7ff36ab5": {
			signature: "swapExactETHForTokens(uint256,address[],address,uint256)",
			args: []argSpec{
				{"amountOutMin", "uint256"},
				{"path", "offset"},
				{"to", "address"},
				{"deadline", "uint256"},
			},
		},
		// WBTC-style burn redeems wrapped value back to the origin chain.
		"0x42966c68": {
			signature: "burn(uint256)",
			args: []argSpec{
				{"amount", "uint256"},
			},
			bridge:      true,
			bridgeChain: domain.ChainIDBitcoin,
		},
		// Wormhole token bridge entry point. Destination is carried in the
		// payload, not the registry, so the call is flagged bridge with no
		// pinned destination chain.
		"0x0f5287b0": {
			signature: "transferTokens(address,uint256,uint16,bytes32,uint256,uint32)",
			args: []argSpec{
				{"token", "address"},
				{"amount", "uint256"},
				{"recipientChain", "uint16"},
				{"recipient", "bytes32"},
				{"arbiterFee", "uint256"},
				{"nonce", "uint32"},
			},
			bridge: true,
		},
	}}
}

// ArgSpec declares one argument of a registered method, in declaration order.
type ArgSpec struct {
	Name string
	Type string
}

// Register adds or replaces a selector entry. Used by tests and deployments
// with site-specific contracts, e.g. a custodial bridge whose destination
// chain is pinned and whose redeem address rides in the call.
func (d *Decoder) Register(
	selector, signature string,
	args []ArgSpec,
	bridge bool,
	bridgeChain domain.ChainID,
) {
	specs := make([]argSpec, len(args))
	for i, a := range args {
		specs[i] = argSpec{name: a.Name, typ: a.Type}
	}
	d.methods[strings.ToLower(selector)] = methodSpec{
		signature:   signature,
		args:        specs,
		bridge:      bridge,
		bridgeChain: bridgeChain,
	}
}

// Decode matches the transaction's call data against the registry. Returns
// nil for plain transfers and unknown selectors; never an error.
func (d *Decoder) Decode(tx *domain.NormalizedTransaction) *domain.DecodedCall {
	data := strings.ToLower(tx.CallData)
	if !strings.HasPrefix(data, "0x") || len(data) < 10 {
		return nil
	}

	selector := data[:10]
	spec, ok := d.methods[selector]
	if !ok {
		return nil
	}

	call := &domain.DecodedCall{
		Selector:    selector,
		Method:      spec.signature,
		Bridge:      spec.bridge,
		BridgeChain: spec.bridgeChain,
	}

	words := data[10:]
	for i, arg := range spec.args {
		start := i * wordChars
		if start+wordChars > len(words) {
			break
		}
		word := words[start : start+wordChars]
		call.Args = append(call.Args, domain.CallArg{
			Name:  arg.name,
			Type:  arg.typ,
			Value: renderWord(word, arg.typ),
		})
	}
	return call
}

// renderWord renders one 32-byte ABI word per its static type. Dynamic types
// keep the raw word (an offset); callers that need the tail decode it
// themselves.
func renderWord(word, typ string) string {
	switch typ {
	case "address":
		return "0x" + word[wordChars-40:]
	case "uint256", "uint32", "uint16", "uint8":
		n := new(big.Int)
		if _, ok := n.SetString(word, 16); !ok {
			return "0x" + word
		}
		return n.String()
	default:
		return "0x" + word
	}
}
