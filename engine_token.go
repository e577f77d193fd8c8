package hospitalauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/hospitalauth/account"
	"github.com/MrEthical07/hospitalauth/internal/failure"
	"github.com/MrEthical07/hospitalauth/internal/metrics"
	"github.com/MrEthical07/hospitalauth/internal/pipeline"
	"github.com/MrEthical07/hospitalauth/token"
)

// Refresh exchanges a refresh token for a new access token. With rotation
// enabled a new refresh token is returned too; otherwise the presented one
// is echoed. The account must still be an active administrator.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	var pair *token.Pair
	err := e.run(ctx, ActionTokenRefresh, "", guardIP, func(ctx context.Context, call *pipeline.Call) error {
		p, claims, err := e.tokens.Refresh(refreshToken)
		if err != nil {
			return err
		}
		call.Identifier = claims.Identifier
		if _, err := e.activeAdmin(ctx, claims.Identifier, claims.Subject, failure.ErrInvalidRefreshToken); err != nil {
			return err
		}
		pair = p
		return nil
	})
	switch {
	case err == nil:
		metrics.TokenRefresh.WithLabelValues("refreshed").Inc()
	case errors.Is(err, ErrInvalidRefreshToken):
		metrics.TokenRefresh.WithLabelValues("invalid").Inc()
	default:
		metrics.TokenRefresh.WithLabelValues("error").Inc()
	}
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Introspect validates an access token and returns the session it belongs
// to with a fresh profile summary.
func (e *Engine) Introspect(ctx context.Context, accessToken string) (*SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, err
	}
	admin, err := e.activeAdmin(ctx, claims.Identifier, claims.Subject, failure.ErrInvalidAccessToken)
	if err != nil {
		return nil, err
	}
	return &SessionInfo{
		AccountID:  claims.Subject,
		Identifier: claims.Identifier,
		Role:       claims.Role,
		HospitalID: claims.HospitalID,
		ExpiresAt:  claims.ExpiresAt.Time,
		Admin:      summarize(admin, claims.HospitalID),
	}, nil
}

// activeAdmin loads the token's account. A missing, changed or disabled
// account yields invalid; repository faults pass through.
func (e *Engine) activeAdmin(ctx context.Context, identifier, accountID string, invalid error) (*account.Admin, error) {
	admin, err := e.accounts.FindByIdentifier(ctx, identifier)
	if errors.Is(err, account.ErrNotFound) {
		return nil, fmt.Errorf("%w: account not found", invalid)
	}
	if err != nil {
		return nil, err
	}
	if admin.ID != accountID || admin.Role != account.RoleHospitalAdmin || !admin.Active {
		return nil, fmt.Errorf("%w: account no longer authorized", invalid)
	}
	return admin, nil
}
