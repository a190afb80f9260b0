package billing

import (
	"context"
	"log"

	"dugsi-admin/core"
)

type VerifyBankInput struct {
	PaymentIntentID string `json:"paymentIntentId" validate:"required,stripe_pi"`
	DescriptorCode  string `json:"descriptorCode" validate:"required,descriptor_code"`
}

type VerifyBankResult struct {
	PaymentIntentID string `json:"paymentIntentId"`
	Status          string `json:"status"`
}

var verificationMessages = map[string]string{
	"payment_intent_unexpected_state":                                   "This bank account has already been verified.",
	"payment_method_microdeposit_verification_descriptor_code_mismatch": "The verification code is incorrect. Check the SM code on the bank statement and try again.",
	"payment_method_microdeposit_verification_amounts_mismatch":         "The verification code is incorrect. Check the SM code on the bank statement and try again.",
	"payment_method_microdeposit_verification_attempts_exceeded":        "Too many failed attempts. The bank account can no longer be verified with microdeposits.",
	"payment_method_microdeposit_verification_timeout":                  "The verification window has expired. The family must add the bank account again.",
	"resource_missing":                                                  "Payment not found. Check the payment intent ID.",
}

const verificationFallback = "Bank account verification failed. Please try again or contact support."

// VerifyBankAccount submits the microdeposit descriptor code for a pending bank payment.
// Both ids are format-checked before the provider is called.
func (s *Service) VerifyBankAccount(ctx context.Context, in VerifyBankInput) (VerifyBankResult, error) {
	in.PaymentIntentID = core.CleanString(in.PaymentIntentID)
	if err := core.ValidateStruct(in); err != nil {
		return VerifyBankResult{}, err
	}
	code := core.NormalizeDescriptorCode(in.DescriptorCode)

	status, err := s.gateway.VerifyMicrodeposits(ctx, in.PaymentIntentID, code)
	if err != nil {
		pErr, ok := core.AsProvider(err)
		if !ok {
			return VerifyBankResult{}, err
		}
		msg, known := verificationMessages[pErr.Code]
		if !known {
			msg = verificationFallback
		}
		log.Printf("[BANK_VERIFY][fail] pi=%s code=%s", in.PaymentIntentID, pErr.Code)
		return VerifyBankResult{}, &core.ProviderError{Code: pErr.Code, Message: msg, Err: pErr}
	}
	log.Printf("[BANK_VERIFY][ok] pi=%s status=%s", in.PaymentIntentID, status)
	return VerifyBankResult{PaymentIntentID: in.PaymentIntentID, Status: status}, nil
}
