package driven

import (
	"context"

	"github.com/ericfisherdev/trendlens/internal/domain/model"
)

// TokenDecoder extracts identity claims from a bearer access token.
type TokenDecoder interface {
	Decode(ctx context.Context, token string) (model.Claims, error)
}
