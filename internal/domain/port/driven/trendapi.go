package driven

import (
	"context"

	"github.com/ericfisherdev/trendlens/internal/domain/model"
)

// AuthAPI defines the driven port for the backend's authentication endpoints.
type AuthAPI interface {
	// Login exchanges a credential pair for an access token.
	Login(ctx context.Context, username, password string) (string, error)

	// Logout ends the server-side session (refresh cookie).
	Logout(ctx context.Context) error

	// Signup registers a new account.
	Signup(ctx context.Context, req model.SignupRequest) error
}

// TrendAPI defines the driven port for the backend's business endpoints.
// Every call is authenticated by the session transport.
type TrendAPI interface {
	GuestRanking(ctx context.Context) ([]model.TrendItem, error)
	SearchInsight(ctx context.Context, keyword string) ([]model.InsightResult, error)
	MyRanking(ctx context.Context, seqAccount int64) ([]model.TrendItem, error)
	ToggleInterest(ctx context.Context, seqAccount, seqKeyword int64) error
	IsLiked(ctx context.Context, seqAccount, seqKeyword int64) (bool, error)
	MyPage(ctx context.Context) (*model.MyPage, error)
	ProfileImageURL(ctx context.Context, key string) (string, error)
	PresignProfilePicture(ctx context.Context, ext, contentType string) (*model.PresignedUpload, error)
	SubscriptionStatus(ctx context.Context, seqAccount int64) (*model.SubscriptionStatus, error)
	AnalyzeBody(ctx context.Context, req model.BodyAnalysisRequest) (*model.BodyAnalysis, error)
	ConfirmPayment(ctx context.Context, req model.PaymentConfirmRequest) (*model.PaymentConfirmation, error)
}
