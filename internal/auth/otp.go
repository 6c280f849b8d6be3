package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	verify "github.com/twilio/twilio-go/rest/verify/v2"
)

var ErrOTPDisabled = errors.New("one-time codes are not configured")

// OTPSender delivers and checks one-time sign-in codes sent by email.
type OTPSender interface {
	Send(ctx context.Context, email string) error
	Check(ctx context.Context, email, code string) (bool, error)
}

// TwilioOTP uses Twilio Verify with the email channel; Twilio generates,
// mails and expires the code.
type TwilioOTP struct {
	client     *twilio.RestClient
	serviceSID string
}

func NewTwilioOTP(accountSID, authToken, serviceSID string) *TwilioOTP {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioOTP{client: client, serviceSID: serviceSID}
}

func (t *TwilioOTP) Send(ctx context.Context, email string) error {
	params := &verify.CreateVerificationParams{}
	params.SetTo(email)
	params.SetChannel("email")

	if _, err := t.client.VerifyV2.CreateVerification(t.serviceSID, params); err != nil {
		return fmt.Errorf("send verification: %w", err)
	}
	return nil
}

func (t *TwilioOTP) Check(ctx context.Context, email, code string) (bool, error) {
	params := &verify.CreateVerificationCheckParams{}
	params.SetTo(email)
	params.SetCode(code)

	resp, err := t.client.VerifyV2.CreateVerificationCheck(t.serviceSID, params)
	if err != nil {
		return false, fmt.Errorf("check verification: %w", err)
	}
	return resp.Status != nil && *resp.Status == "approved", nil
}

// DisabledOTP is used when Twilio credentials are not configured.
type DisabledOTP struct{}

func (DisabledOTP) Send(context.Context, string) error { return ErrOTPDisabled }

func (DisabledOTP) Check(context.Context, string, string) (bool, error) {
	return false, ErrOTPDisabled
}
