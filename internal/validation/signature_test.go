package validation

import "testing"

func TestVerifyPaymentSignature(t *testing.T) {
	secret := "payment-secret"
	sig := PaymentSignature(secret, "gw_order_1", "gw_pay_1")

	if !VerifyPaymentSignature(secret, "gw_order_1", "gw_pay_1", sig) {
		t.Fatalf("valid signature rejected")
	}
	if VerifyPaymentSignature(secret, "gw_order_1", "gw_pay_2", sig) {
		t.Fatalf("signature accepted for different payment id")
	}
	if VerifyPaymentSignature("other-secret", "gw_order_1", "gw_pay_1", sig) {
		t.Fatalf("signature accepted with wrong secret")
	}
	if VerifyPaymentSignature(secret, "gw_order_1", "gw_pay_1", "") {
		t.Fatalf("empty signature accepted")
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "webhook-secret"
	body := []byte(`{"order_id":"ord-1","status":"delivered"}`)

	sig := WebhookSignature(secret, body)

	if !VerifyWebhookSignature(secret, body, sig) {
		t.Fatalf("valid signature rejected")
	}
	if VerifyWebhookSignature(secret, []byte(`{"order_id":"ord-2"}`), sig) {
		t.Fatalf("signature accepted for different body")
	}
	if VerifyWebhookSignature(secret, body, sig+"00") {
		t.Fatalf("tampered signature accepted")
	}
}
