package server

import (
	"net/http"
	"time"

	"github.com/MrEthical07/hospitalauth"
	"github.com/MrEthical07/hospitalauth/middleware"
	"github.com/MrEthical07/hospitalauth/token"
)

const resetAcknowledgement = "If the account exists, a verification code has been sent to its registered mailbox."

type loginBody struct {
	Identifier   string `json:"identifier"`
	Password     string `json:"password"`
	FacilityCode string `json:"facility_code"`
	DeviceID     string `json:"device_id,omitempty"`
}

type verifyBody struct {
	Identifier     string `json:"identifier"`
	Code           string `json:"code"`
	DeviceID       string `json:"device_id,omitempty"`
	RememberDevice bool   `json:"remember_device,omitempty"`
}

type identifierBody struct {
	Identifier string `json:"identifier"`
}

type resetRequestBody struct {
	Identifier   string `json:"identifier"`
	FacilityCode string `json:"facility_code"`
}

type resetVerifyBody struct {
	Identifier string `json:"identifier"`
	Token      string `json:"token"`
	Code       string `json:"code"`
}

type resetCompleteBody struct {
	Identifier      string `json:"identifier"`
	Token           string `json:"token"`
	SecondaryToken  string `json:"secondary_token"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

type refreshBody struct {
	Refresh string `json:"refresh"`
}

type statusBody struct {
	Status    string     `json:"status"`
	Message   string     `json:"message,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type authenticatedBody struct {
	Status        string                     `json:"status"`
	Tokens        *token.Pair                `json:"tokens"`
	Admin         *hospitalauth.AdminSummary `json:"admin"`
	DeviceTrusted bool                       `json:"device_trusted,omitempty"`
}

type resetVerifiedBody struct {
	Token          string `json:"token"`
	SecondaryToken string `json:"secondary_token"`
}

type sessionBody struct {
	AccountID  string                     `json:"account_id"`
	Identifier string                     `json:"identifier"`
	Role       string                     `json:"role"`
	HospitalID int64                      `json:"hospital_id,omitempty"`
	ExpiresAt  time.Time                  `json:"expires_at"`
	Admin      *hospitalauth.AdminSummary `json:"admin,omitempty"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.StartLogin(r.Context(), hospitalauth.LoginRequest{
		Identifier:   body.Identifier,
		Password:     body.Password,
		FacilityCode: body.FacilityCode,
		DeviceID:     body.DeviceID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if res.Status == hospitalauth.LoginAuthenticated {
		s.authenticated(w, res)
		return
	}
	expires := res.ChallengeExpiresAt.UTC()
	writeJSON(w, http.StatusAccepted, statusBody{Status: string(res.Status), ExpiresAt: &expires})
}

func (s *Server) verify2FA(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if err := decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.VerifyLogin(r.Context(), hospitalauth.VerifyLoginRequest{
		Identifier:     body.Identifier,
		Code:           body.Code,
		DeviceID:       body.DeviceID,
		RememberDevice: body.RememberDevice,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.authenticated(w, res)
}

func (s *Server) authenticated(w http.ResponseWriter, res *hospitalauth.LoginResult) {
	s.cookies.Write(w, res.Tokens, s.engine.Now())
	writeJSON(w, http.StatusOK, authenticatedBody{
		Status:        string(res.Status),
		Tokens:        res.Tokens,
		Admin:         res.Admin,
		DeviceTrusted: res.DeviceTrusted,
	})
}

func (s *Server) resend2FA(w http.ResponseWriter, r *http.Request) {
	var body identifierBody
	if err := decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.ResendLoginCode(r.Context(), body.Identifier); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statusBody{Status: "code_sent"})
}

func (s *Server) resetRequest(w http.ResponseWriter, r *http.Request) {
	var body resetRequestBody
	if err := decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	err := s.engine.RequestPasswordReset(r.Context(), hospitalauth.PasswordResetRequest{
		Identifier:   body.Identifier,
		FacilityCode: body.FacilityCode,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "success", Message: resetAcknowledgement})
}

func (s *Server) resetVerify(w http.ResponseWriter, r *http.Request) {
	var body resetVerifyBody
	if err := decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.VerifyPasswordReset(r.Context(), hospitalauth.PasswordResetVerifyRequest{
		Identifier:   body.Identifier,
		PrimaryToken: body.Token,
		Code:         body.Code,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resetVerifiedBody{Token: res.PrimaryToken, SecondaryToken: res.SecondaryToken})
}

func (s *Server) resetComplete(w http.ResponseWriter, r *http.Request) {
	var body resetCompleteBody
	if err := decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	err := s.engine.CompletePasswordReset(r.Context(), hospitalauth.PasswordResetCompleteRequest{
		Identifier:      body.Identifier,
		PrimaryToken:    body.Token,
		SecondaryToken:  body.SecondaryToken,
		NewPassword:     body.NewPassword,
		ConfirmPassword: body.ConfirmPassword,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "success", Message: "password updated"})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if err := decode(w, r, &body, true); err != nil {
		s.fail(w, r, err)
		return
	}
	presented := token.RefreshFromRequest(r, body.Refresh)
	if presented == "" {
		s.fail(w, r, hospitalauth.ErrInvalidRefreshToken)
		return
	}
	pair, err := s.engine.Refresh(r.Context(), presented)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.cookies.Write(w, pair, s.engine.Now())
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		s.fail(w, r, hospitalauth.ErrInvalidAccessToken)
		return
	}
	writeJSON(w, http.StatusOK, sessionBody{
		AccountID:  info.AccountID,
		Identifier: info.Identifier,
		Role:       info.Role,
		HospitalID: info.HospitalID,
		ExpiresAt:  info.ExpiresAt,
		Admin:      info.Admin,
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusBody{Status: "ok"})
}
