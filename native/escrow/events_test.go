package escrow

import (
	"encoding/hex"
	"math/big"
	"testing"
)

func TestEventPayloadCarriesRecord(t *testing.T) {
	addr, nonce, err := Derive(StateNamespace, 42)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	esc := &Escrow{
		Address:         addr,
		Seed:            42,
		Nonce:           nonce,
		Initializer:     newTestAddress(0x01),
		Counterparty:    newTestAddress(0x02),
		AssetPrimary:    "usdx",
		AmountDeposited: big.NewInt(100_000),
		CreatedAt:       1_700_000_000,
	}
	evt := NewInitializedEvent(esc)
	if evt.Type != EventTypeInitialized {
		t.Fatalf("unexpected type %q", evt.Type)
	}
	attrs := evt.Attributes
	if attrs["address"] != hex.EncodeToString(addr[:]) {
		t.Fatalf("address attr %q", attrs["address"])
	}
	vault := esc.Vault()
	if attrs["vault"] != hex.EncodeToString(vault[:]) {
		t.Fatalf("vault attr %q", attrs["vault"])
	}
	if attrs["assetPrimary"] != "USDX" || attrs["assetSecondary"] != "USDX" {
		t.Fatalf("asset attrs %q %q", attrs["assetPrimary"], attrs["assetSecondary"])
	}
	if attrs["amountDeposited"] != "100000" || attrs["amountRequested"] != "0" {
		t.Fatalf("amount attrs %q %q", attrs["amountDeposited"], attrs["amountRequested"])
	}
	if attrs["seed"] != "42" || attrs["paymentConfirmed"] != "false" {
		t.Fatalf("attrs %q %q", attrs["seed"], attrs["paymentConfirmed"])
	}
}

func TestEventConstructorsTolerateNil(t *testing.T) {
	for _, evt := range []*struct {
		name string
		got  string
		want string
	}{
		{"initialized", NewInitializedEvent(nil).Type, EventTypeInitialized},
		{"confirmed", NewPaymentConfirmedEvent(nil).Type, EventTypePaymentConfirmed},
		{"released", NewReleasedEvent(nil).Type, EventTypeReleased},
		{"cancelled", NewCancelledEvent(nil).Type, EventTypeCancelled},
	} {
		if evt.got != evt.want {
			t.Fatalf("%s: type %q, want %q", evt.name, evt.got, evt.want)
		}
	}
}
