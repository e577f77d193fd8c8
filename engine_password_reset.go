package hospitalauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/hospitalauth/internal/pipeline"
	"github.com/MrEthical07/hospitalauth/internal/reset"
)

// RequestPasswordReset starts a reset and mails a code and reset token to
// the account's contact mailbox.
//
// The result is the same for unknown identifiers, facility mismatches,
// accounts without a mailbox and internal faults: nil after a short random
// delay. Only [ErrRateLimited] is surfaced, and only for an IP that was
// already exhausted before the call: the request itself never counts.
func (e *Engine) RequestPasswordReset(ctx context.Context, req PasswordResetRequest) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	err := e.run(ctx, ActionResetRequest, req.Identifier, guardIPCheck, func(ctx context.Context, call *pipeline.Call) error {
		_, err := e.resets.Request(ctx, call.Identifier, req.FacilityCode, origin(call))
		if errors.Is(err, reset.ErrNoMailbox) {
			call.Annotate("reason", "no_mailbox")
		}
		annotateAuthFailure(call, err)
		return err
	})
	if errors.Is(err, ErrRateLimited) {
		return err
	}
	if err != nil && !IsExpected(err) && !errors.Is(err, reset.ErrNoMailbox) {
		e.logger.ErrorContext(ctx, "password reset request failed", "error", err)
	}
	e.enumerationDelay(ctx)
	return nil
}

// VerifyPasswordReset checks the mailed code for the session named by the
// reset token and returns the secondary token for the final step. Three
// wrong codes destroy the session.
func (e *Engine) VerifyPasswordReset(ctx context.Context, req PasswordResetVerifyRequest) (*PasswordResetVerified, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	var out *PasswordResetVerified
	err := e.run(ctx, ActionResetVerify, req.Identifier, guardIP, func(ctx context.Context, call *pipeline.Call) error {
		secondary, err := e.resets.Verify(ctx, call.Identifier, req.PrimaryToken, req.Code, origin(call))
		if err != nil {
			return err
		}
		out = &PasswordResetVerified{PrimaryToken: req.PrimaryToken, SecondaryToken: secondary}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompletePasswordReset sets the new password after a verified step two.
// Calling it before verification, with a wrong secondary token, or against
// a completed session returns [ErrResetSequenceViolation]. Success clears
// any lockout on the account.
func (e *Engine) CompletePasswordReset(ctx context.Context, req PasswordResetCompleteRequest) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.run(ctx, ActionResetComplete, req.Identifier, guardIP, func(ctx context.Context, call *pipeline.Call) error {
		return e.resets.Complete(ctx, reset.CompleteRequest{
			Identifier:      call.Identifier,
			PrimaryToken:    req.PrimaryToken,
			SecondaryToken:  req.SecondaryToken,
			NewPassword:     req.NewPassword,
			ConfirmPassword: req.ConfirmPassword,
		}, origin(call))
	})
}

func origin(call *pipeline.Call) reset.Origin {
	return reset.Origin{IP: call.IP, UserAgent: call.UserAgent}
}
