package crypto

import (
	"encoding/base64"
	"strings"
	"testing"
)

// Well-known throwaway key (hardhat account #0). Never funded on mainnet.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestSignerAddressDerivation(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	want := "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	if got := s.Address().Hex(); got != want {
		t.Errorf("address = %s, want %s", got, want)
	}
}

func TestSignerAcceptsPrefixedKey(t *testing.T) {
	a, err := NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	b, err := NewSigner("0x"+testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner with prefix: %v", err)
	}
	if a.Address() != b.Address() {
		t.Error("0x prefix changed the derived address")
	}
}

func TestSignerRejectsUnknownChain(t *testing.T) {
	if _, err := NewSigner(testKeyHex, 1); err == nil {
		t.Error("NewSigner accepted a chain without an exchange contract")
	}
}

func TestSignAuthMessageIsDeterministic(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	sig1, err := s.SignAuthMessage(1700000000, 0)
	if err != nil {
		t.Fatalf("SignAuthMessage: %v", err)
	}
	sig2, err := s.SignAuthMessage(1700000000, 0)
	if err != nil {
		t.Fatalf("SignAuthMessage: %v", err)
	}

	if sig1 != sig2 {
		t.Error("same inputs produced different signatures")
	}
	if !strings.HasPrefix(sig1, "0x") || len(sig1) != 2+65*2 {
		t.Errorf("signature %q is not a 65-byte hex string", sig1)
	}
	v := sig1[len(sig1)-2:]
	if v != "1b" && v != "1c" {
		t.Errorf("recovery byte = %s, want 1b or 1c", v)
	}
}

func TestSignOrderValidatesNumericFields(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	order := OrderPayload{
		Salt:        "12345",
		Maker:       s.Address().Hex(),
		Signer:      s.Address().Hex(),
		Taker:       "0x0000000000000000000000000000000000000000",
		TokenID:     "7131...oops",
		MakerAmount: "21000000",
		TakerAmount: "50000000",
		Expiration:  "0",
		Nonce:       "0",
		FeeRateBps:  "0",
	}
	if _, err := s.SignOrder(order); err == nil {
		t.Error("SignOrder accepted a non-numeric tokenId")
	}

	order.TokenID = "71310726072476264679795318737922392343838660672822425316094043621240858214588"
	sig, err := s.SignOrder(order)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if len(sig) != 2+65*2 {
		t.Errorf("signature length = %d, want 132", len(sig))
	}
}

func TestL2HeadersAt(t *testing.T) {
	creds := &APICreds{
		Key:        "key-1",
		Secret:     base64.URLEncoding.EncodeToString([]byte("super-secret")),
		Passphrase: "pass-1",
	}

	h := creds.L2HeadersAt("0xabc", "GET", "/order/123", "", 1700000000)

	if h["POLY_ADDRESS"] != "0xabc" || h["POLY_API_KEY"] != "key-1" ||
		h["POLY_PASSPHRASE"] != "pass-1" || h["POLY_TIMESTAMP"] != "1700000000" {
		t.Errorf("header fields wrong: %v", h)
	}
	if h["POLY_SIGNATURE"] == "" {
		t.Fatal("signature missing")
	}

	// Same inputs, same signature; different path, different signature.
	again := creds.L2HeadersAt("0xabc", "GET", "/order/123", "", 1700000000)
	if again["POLY_SIGNATURE"] != h["POLY_SIGNATURE"] {
		t.Error("signature not deterministic for identical inputs")
	}
	other := creds.L2HeadersAt("0xabc", "GET", "/order/456", "", 1700000000)
	if other["POLY_SIGNATURE"] == h["POLY_SIGNATURE"] {
		t.Error("signature ignores the request path")
	}
}

func TestAPICredsStringRedacts(t *testing.T) {
	creds := &APICreds{Key: "key-123456", Secret: "secret-abcdef"}
	s := creds.String()
	if strings.Contains(s, "123456") || strings.Contains(s, "abcdef") {
		t.Errorf("String leaked credentials: %s", s)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("round trip = %s, want original key", got)
	}

	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Error("DecryptKey accepted the wrong password")
	}
}

func TestLoadKeyPrefersRawKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("LoadKey = %s, want stripped raw key", got)
	}

	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Error("LoadKey succeeded with no key source")
	}
}
