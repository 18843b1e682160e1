package intel

import (
	"strings"
	"testing"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// word left-pads hex digits to one ABI word.
func word(hexDigits string) string {
	return strings.Repeat("0", wordChars-len(hexDigits)) + hexDigits
}

func TestDecode_ERC20Transfer(t *testing.T) {
	d := NewDecoder()
	data := "0xa9059cbb" +
		word("d8da6bf26964af9d7eed9e03e53415d37aa96045") +
		word("f4240")

	call := d.Decode(&domain.NormalizedTransaction{
		ChainID:  domain.ChainIDEthereum,
		CallData: data,
	})
	if call == nil {
		t.Fatal("expected a decoded call")
	}
	if call.Selector != "0xa9059cbb" {
		t.Errorf("unexpected selector %q", call.Selector)
	}
	if call.Method != "transfer(address,uint256)" {
		t.Errorf("unexpected method %q", call.Method)
	}
	if call.Bridge {
		t.Error("transfer is not a bridge call")
	}
	if len(call.Args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(call.Args))
	}
	if call.Args[0].Value != "0xd8da6bf26964af9d7eed9e03e53415d37aa96045" {
		t.Errorf("unexpected to %q", call.Args[0].Value)
	}
	if call.Args[1].Value != "1000000" {
		t.Errorf("unexpected amount %q", call.Args[1].Value)
	}
}

func TestDecode_MixedCaseCallData(t *testing.T) {
	d := NewDecoder()
	data := "0xA9059CBB" +
		word("D8DA6BF26964AF9D7EED9E03E53415D37AA96045") +
		word("01")

	call := d.Decode(&domain.NormalizedTransaction{CallData: data})
	if call == nil {
		t.Fatal("expected a decoded call")
	}
	if call.Args[0].Value != "0xd8da6bf26964af9d7eed9e03e53415d37aa96045" {
		t.Errorf("expected lowercased address, got %q", call.Args[0].Value)
	}
}

func TestDecode_NoMatch(t *testing.T) {
	d := NewDecoder()
	tests := []struct {
		name     string
		callData string
	}{
		{"plain transfer", ""},
		{"missing prefix", "a9059cbb" + word("01")},
		{"unknown selector", "0xdeadbeef" + word("01")},
		{"truncated selector", "0xa9059c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := d.Decode(&domain.NormalizedTransaction{CallData: tt.callData})
			if call != nil {
				t.Errorf("expected nil, got %+v", call)
			}
		})
	}
}

func TestDecode_TruncatedArgsStopShort(t *testing.T) {
	d := NewDecoder()
	data := "0xa9059cbb" + word("d8da6bf26964af9d7eed9e03e53415d37aa96045")

	call := d.Decode(&domain.NormalizedTransaction{CallData: data})
	if call == nil {
		t.Fatal("expected a decoded call")
	}
	if len(call.Args) != 1 {
		t.Fatalf("expected 1 arg, got %d", len(call.Args))
	}
	if call.Args[0].Name != "to" {
		t.Errorf("unexpected arg %q", call.Args[0].Name)
	}
}

func TestDecode_BridgeBurn(t *testing.T) {
	d := NewDecoder()
	data := "0x42966c68" + word("de0b6b3a7640000")

	call := d.Decode(&domain.NormalizedTransaction{
		ChainID:  domain.ChainIDEthereum,
		CallData: data,
	})
	if call == nil {
		t.Fatal("expected a decoded call")
	}
	if !call.Bridge {
		t.Error("expected bridge flag")
	}
	if call.BridgeChain != domain.ChainIDBitcoin {
		t.Errorf("expected bitcoin destination, got %q", call.BridgeChain)
	}
	if call.Args[0].Value != "1000000000000000000" {
		t.Errorf("unexpected amount %q", call.Args[0].Value)
	}
}

func TestRegister_AddsSelector(t *testing.T) {
	d := NewDecoder()
	d.Register("0xABCDEF12", "redeem(address,uint256)", []ArgSpec{
		{Name: "recipient", Type: "address"},
		{Name: "amount", Type: "uint256"},
	}, true, domain.ChainIDEthereum)

	callData := "0xabcdef12" +
		"000000000000000000000000aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" +
		"0000000000000000000000000000000000000000000000000000000000000007"
	call := d.Decode(&domain.NormalizedTransaction{CallData: callData})
	if call == nil {
		t.Fatal("expected a decoded call")
	}
	if call.Method != "redeem(address,uint256)" {
		t.Errorf("unexpected method %q", call.Method)
	}
	if !call.Bridge || call.BridgeChain != domain.ChainIDEthereum {
		t.Errorf("unexpected bridge fields: %+v", call)
	}
	if len(call.Args) != 2 {
		t.Fatalf("expected 2 decoded args, got %d", len(call.Args))
	}
	if call.Args[0].Value != "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" {
		t.Errorf("unexpected recipient %q", call.Args[0].Value)
	}
	if call.Args[1].Value != "7" {
		t.Errorf("unexpected amount %q", call.Args[1].Value)
	}
}
