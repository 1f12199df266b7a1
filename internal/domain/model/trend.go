package model

// TrendItem is a ranked fashion keyword.
type TrendItem struct {
	SeqKeyword int64   `json:"seqKeyword"`
	Keyword    string  `json:"keyword"`
	Category   string  `json:"category"`
	TrendScore float64 `json:"trendScore"`
	Rank       int     `json:"rank,omitempty"`
}

// InsightResult is the styling insight generated for a keyword.
type InsightResult struct {
	SeqKeyword int64   `json:"seqKeyword"`
	Keyword    string  `json:"keyword"`
	Category   string  `json:"category"`
	Summary    string  `json:"summary"`
	StylingTip *string `json:"stylingTip"`
	HasInsight bool    `json:"hasInsight"`
}

// MyPage is the profile of the logged-in account.
type MyPage struct {
	Email      string `json:"email"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	ProfilePic string `json:"profilePic"`
	SeqAccount int64  `json:"seqAccount"`
}

// PresignedUpload is an upload slot for a profile picture. The upload itself
// happens against object storage, outside this client.
type PresignedUpload struct {
	PresignedURL string `json:"presignedURL"`
	FileURL      string `json:"fileURL"`
}

// SubscriptionStatus describes the account's subscription plan.
type SubscriptionStatus struct {
	Plan          string `json:"plan"`
	Status        string `json:"status"`
	StartedAt     string `json:"startedAt"`
	NextBillingAt string `json:"nextBillingAt"`
}

// SignupRequest is the account registration payload.
type SignupRequest struct {
	Email      string  `json:"email"`
	Password   string  `json:"password"`
	Username   string  `json:"username"`
	Nickname   string  `json:"nickname"`
	PhoneNum   string  `json:"phonenum"`
	Birthday   string  `json:"birthday"`
	ProfilePic *string `json:"profilepic"`
}

// Gender values accepted by body analysis.
const (
	GenderMale    = "M"
	GenderFemale  = "F"
	GenderUnknown = "U"
)

// BodyAnalysisRequest is a full-body photo plus the measurements the
// analysis is calibrated with.
type BodyAnalysisRequest struct {
	Image       []byte
	Filename    string
	ContentType string
	HeightCm    float64
	WeightKg    float64
	Gender      string
	SeqAccount  int64
}

// BodyAnalysis is the estimated body shape and the styling advice derived
// from it.
type BodyAnalysis struct {
	SeqAccount      int64   `json:"seqAccount"`
	ImageURL        string  `json:"imageUrl"`
	MeshURL         string  `json:"meshUrl"`
	HeightCm        float64 `json:"heightCm"`
	WeightKg        float64 `json:"weightKg"`
	BMI             float64 `json:"bmi"`
	ShoulderWidthCm float64 `json:"shoulderWidthCm"`
	ArmLengthCm     float64 `json:"armLengthCm"`
	LegLengthCm     float64 `json:"legLengthCm"`
	TorsoLengthCm   float64 `json:"torsoLengthCm"`
	Gender          string  `json:"gender"`
	SeqBodyAnalysis *int64  `json:"seqBodyAnalysis,omitempty"`
	SeqBodyMetrics  *int64  `json:"seqBodyMetrics,omitempty"`
	PromptUsed      *string `json:"promptUsed,omitempty"`
	AIResult        *string `json:"aiResult,omitempty"`
}

// PaymentConfirmRequest approves a checkout the payment provider redirected
// back with.
type PaymentConfirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

// PaymentConfirmation is the backend's record of an approved payment.
type PaymentConfirmation struct {
	OrderID         string `json:"orderId"`
	Amount          int64  `json:"amount"`
	PaymentKey      string `json:"paymentKey"`
	Status          string `json:"status"`
	NextBillingDate string `json:"nextBillingDate,omitempty"`
}
