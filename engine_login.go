package hospitalauth

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/hospitalauth/account"
	"github.com/MrEthical07/hospitalauth/internal/challenge"
	"github.com/MrEthical07/hospitalauth/internal/credential"
	"github.com/MrEthical07/hospitalauth/internal/failure"
	"github.com/MrEthical07/hospitalauth/internal/governor"
	"github.com/MrEthical07/hospitalauth/internal/pipeline"
	"github.com/MrEthical07/hospitalauth/internal/reqctx"
	"github.com/MrEthical07/hospitalauth/token"
)

// StartLogin checks the credentials and facility code and mails a
// second-factor code.
//
// Identity failures all surface as [ErrInvalidCredentials]. A locked
// identifier returns a [LockedError] even with correct credentials, and an
// exhausted client IP returns [ErrRateLimited]. When the trusted device
// policy is enabled and the device is trusted, tokens are issued at once.
func (e *Engine) StartLogin(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = reqctx.DeviceID(ctx)
	}

	var result *LoginResult
	err := e.run(ctx, ActionLogin, req.Identifier, guardAccount, func(ctx context.Context, call *pipeline.Call) error {
		res, err := e.verifier.Verify(ctx, credential.Request{
			Identifier:   call.Identifier,
			Password:     req.Password,
			FacilityCode: req.FacilityCode,
		})
		if err != nil {
			annotateAuthFailure(call, err)
			return err
		}
		hospitalID := res.Affiliation.Hospital.ID
		call.Annotate("hospital_id", strconv.FormatInt(hospitalID, 10))

		if e.config.Policy.SkipChallengeForTrustedDevices && deviceID != "" {
			trusted, err := e.devices.IsTrusted(ctx, res.Admin.ID, deviceID)
			if err != nil {
				e.logger.WarnContext(ctx, "trusted device lookup failed, issuing challenge", "error", err)
			}
			if trusted {
				call.Annotate("second_factor", "trusted_device")
				result, err = e.authenticate(ctx, call, res.Admin, hospitalID)
				if err != nil {
					return err
				}
				result.DeviceTrusted = true
				return nil
			}
		}

		ch, err := e.challenges.Issue(ctx, call.Identifier, challenge.Owner{
			AccountID:  res.Admin.ID,
			HospitalID: hospitalID,
		}, account.ContactAddress(res.Admin))
		if err != nil {
			return err
		}
		if !ch.Delivered {
			call.Annotate("code_delivery", "no_mailbox")
		}
		result = &LoginResult{Status: LoginChallengeRequired, ChallengeExpiresAt: ch.ExpiresAt}
		return nil
	})
	observeLogin(result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// VerifyLogin checks the mailed code and issues tokens. A code is accepted
// once. After the configured number of wrong codes the challenge is gone
// and [ErrTooManyAttempts] is returned; a new StartLogin is required.
func (e *Engine) VerifyLogin(ctx context.Context, req VerifyLoginRequest) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = reqctx.DeviceID(ctx)
	}

	var result *LoginResult
	err := e.run(ctx, ActionVerifyLogin, req.Identifier, guardAccount, func(ctx context.Context, call *pipeline.Call) error {
		ch, err := e.challenges.Verify(ctx, call.Identifier, req.Code)
		if err != nil {
			var ce *CodeError
			if errors.As(err, &ce) {
				call.Annotate("attempts_remaining", strconv.Itoa(ce.Remaining))
			}
			return err
		}

		admin, err := e.accounts.FindByIdentifier(ctx, call.Identifier)
		if errors.Is(err, account.ErrNotFound) {
			return failure.NewAuthFailure(failure.ErrUnknownAccount)
		}
		if err != nil {
			return err
		}
		if admin.ID != ch.AccountID || admin.Role != account.RoleHospitalAdmin || !admin.Active {
			return failure.NewAuthFailure(failure.ErrNotAuthorized)
		}

		result, err = e.authenticate(ctx, call, admin, ch.HospitalID)
		if err != nil {
			return err
		}
		switch {
		case deviceID == "":
		case req.RememberDevice:
			if _, err := e.devices.Remember(ctx, admin.ID, deviceID); err != nil {
				e.logger.WarnContext(ctx, "device not remembered", "error", err)
			} else {
				call.Annotate("device", "remembered")
				result.DeviceTrusted = true
			}
		default:
			// Verifying without remember_device withdraws earlier trust.
			if err := e.devices.Forget(ctx, admin.ID, deviceID); err != nil {
				e.logger.WarnContext(ctx, "device trust not withdrawn", "error", err)
			}
		}
		return nil
	})
	observeLogin(result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ResendLoginCode mails the live challenge's code again. It does not extend
// the challenge or reset its attempt counter.
func (e *Engine) ResendLoginCode(ctx context.Context, identifier string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.run(ctx, ActionResendLoginCode, identifier, guardAccount, func(ctx context.Context, call *pipeline.Call) error {
		admin, err := e.accounts.FindByIdentifier(ctx, call.Identifier)
		if errors.Is(err, account.ErrNotFound) {
			return failure.ErrChallengeExpired
		}
		if err != nil {
			return err
		}
		return e.challenges.Resend(ctx, call.Identifier, account.ContactAddress(admin))
	})
}

// authenticate issues tokens and clears the failure state of the call.
func (e *Engine) authenticate(ctx context.Context, call *pipeline.Call, admin *account.Admin, hospitalID int64) (*LoginResult, error) {
	pair, err := e.tokens.Issue(token.Subject{
		AccountID:  admin.ID,
		Identifier: account.NormalizeIdentifier(admin.Identifier),
		Role:       string(admin.Role),
		HospitalID: hospitalID,
	})
	if err != nil {
		return nil, err
	}
	if err := e.governor.RecordSuccess(ctx, governor.Attempt{
		Identifier: call.Identifier,
		IP:         call.IP,
		UserAgent:  call.UserAgent,
	}); err != nil {
		e.logger.ErrorContext(ctx, "login counters not cleared", "error", err)
	}
	return &LoginResult{
		Status: LoginAuthenticated,
		Tokens: pair,
		Admin:  summarize(admin, hospitalID),
	}, nil
}

func annotateAuthFailure(call *pipeline.Call, err error) {
	var af *AuthFailure
	if errors.As(err, &af) {
		call.Annotate("reason", af.ReasonCode())
	}
}
