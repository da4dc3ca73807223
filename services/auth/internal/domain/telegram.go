package domain

// TelegramUser holds the user fields extracted from verified Mini App
// init data.
type TelegramUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	IsPremium    bool   `json:"is_premium,omitempty"`
	PhotoURL     string `json:"photo_url,omitempty"`
	AuthDate     int64  `json:"auth_date"`
}

// TelegramAuthStatus is the outcome of a Telegram authentication attempt.
type TelegramAuthStatus string

const (
	// TelegramAuthSuccess means a bound, active credential was found and
	// tokens were issued.
	TelegramAuthSuccess TelegramAuthStatus = "SUCCESS"
	// TelegramAuthRequired means no credential is bound to the Telegram id;
	// the client must log in or register to bind one.
	TelegramAuthRequired TelegramAuthStatus = "AUTH_REQUIRED"
)

// TelegramAuthResult carries tokens on success or the Telegram user fields
// when binding is required.
type TelegramAuthResult struct {
	Status       TelegramAuthStatus `json:"status"`
	Tokens       *TokenPair         `json:"tokens,omitempty"`
	TelegramUser *TelegramUser      `json:"telegram_user,omitempty"`
}
