package identitytoolkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSession is returned when a token is requested for a user that is
	// not the signed in one.
	ErrNoSession = errors.New("identitytoolkit: no session for user")
	// ErrMissingCode is returned when the popup redirect has no code.
	ErrMissingCode = errors.New("identitytoolkit: authorization code missing from callback")
	// ErrTenantMismatch is returned when a token belongs to another tenant.
	ErrTenantMismatch = errors.New("identitytoolkit: token tenant mismatch")
)

// ProviderError captures normalized Identity Toolkit and Secure Token
// response details.
type ProviderError struct {
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "identitytoolkit error"
	}

	scope := "identitytoolkit"
	if e.Operation != "" {
		scope = fmt.Sprintf("identitytoolkit %s", e.Operation)
	}

	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("%s failed: %s: %s", scope, e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return fmt.Sprintf("%s failed with status %d", scope, e.Status)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func providerError(operation string, status int, code, description string, err error) *ProviderError {
	return &ProviderError{
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
	}
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// parseAPIError reads {"error":{"code":400,"message":"CODE : detail"}}.
func parseAPIError(operation string, status int, body []byte) *ProviderError {
	var resp apiErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error.Message == "" {
		return providerError(operation, status, "", strings.TrimSpace(string(body)), nil)
	}

	code, description, _ := strings.Cut(resp.Error.Message, ":")
	return providerError(operation, status, strings.TrimSpace(code), strings.TrimSpace(description), nil)
}
