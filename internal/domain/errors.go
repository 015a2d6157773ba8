package domain

// ErrorCode is the normalized failure vocabulary shared by runtimes, the worker and the cooldown policy.
type ErrorCode string

const (
	ErrCodeRateLimit         ErrorCode = "RATE_LIMIT"
	ErrCodeRateLimited       ErrorCode = "RATE_LIMITED"
	ErrCodeSlotRateLimited   ErrorCode = "SLOT_RATE_LIMITED"
	ErrCodeCaptcha           ErrorCode = "CAPTCHA"
	ErrCodeChallengeRequired ErrorCode = "CHALLENGE_REQUIRED"

	ErrCodeSessionInvalid   ErrorCode = "SESSION_INVALID"
	ErrCodeSessionExpired   ErrorCode = "SESSION_EXPIRED"
	ErrCodeDecryptFailed    ErrorCode = "DECRYPT_FAILED"
	ErrCodeAccountSuspended ErrorCode = "ACCOUNT_SUSPENDED"

	ErrCodeParserDown   ErrorCode = "PARSER_DOWN"
	ErrCodeConnReset    ErrorCode = "ECONNRESET"
	ErrCodeConnRefused  ErrorCode = "ECONNREFUSED"
	ErrCodeTimedOut     ErrorCode = "ETIMEDOUT"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeNetworkError ErrorCode = "NETWORK_ERROR"

	ErrCodeAborted        ErrorCode = "ABORTED"
	ErrCodeTargetCooldown ErrorCode = "TARGET_COOLDOWN"
	ErrCodeUnknown        ErrorCode = "UNKNOWN"
)

// RiskBand is a qualitative bucket over a session risk score.
type RiskBand string

const (
	RiskBandHealthy  RiskBand = "HEALTHY"
	RiskBandWarning  RiskBand = "WARNING"
	RiskBandCritical RiskBand = "CRITICAL"
)

// ScrollProfile tells a runtime how conservatively to pace interaction.
type ScrollProfile string

const (
	ScrollSafe       ScrollProfile = "SAFE"
	ScrollNormal     ScrollProfile = "NORMAL"
	ScrollAggressive ScrollProfile = "AGGRESSIVE"
)
