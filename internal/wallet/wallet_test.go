package wallet

import "testing"

func TestSignRequestVerifies(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	tx, err := w.SignRequest("bob", "SEND $5")
	if err != nil {
		t.Fatalf("SignRequest: %v", err)
	}
	if tx.Sender != w.UserId() {
		t.Fatalf("Sender = %s, want %s", tx.Sender, w.UserId())
	}
	if !VerifyRequest(tx) {
		t.Fatal("expected signed transaction to verify")
	}
}

func TestSignRequestTamperedFailsVerify(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	tx, err := w.SignRequest("bob", "SEND $5")
	if err != nil {
		t.Fatalf("SignRequest: %v", err)
	}
	tx.Message = "SEND $500"
	if VerifyRequest(tx) {
		t.Fatal("expected tampered transaction to fail verification")
	}
}
