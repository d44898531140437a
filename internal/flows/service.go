package flows

import (
	"context"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Verify.ParseAccess != nil && s.deps.Rotate.Store != nil
}

func (s Service) Rotate(ctx context.Context, req RotateRequest) RotateResult {
	return RunRotate(ctx, req, s.deps.Rotate)
}

func (s Service) Verify(ctx context.Context, token string) VerifyResult {
	return RunVerify(ctx, token, s.deps.Verify)
}

func (s Service) ValidateAPIKey(ctx context.Context, key string) APIKeyResult {
	return RunValidateAPIKey(ctx, key, s.deps.APIKey)
}
