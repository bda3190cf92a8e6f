package models

// AccountType distinguishes human users from page proxy accounts.
type AccountType string

const (
	AccountUser AccountType = "user"
	AccountPage AccountType = "page"
)

// Account is the minimal identity record this core needs: enough to
// resolve page accounts to their owning human and to render display names.
type Account struct {
	ID       string      `json:"id"`
	Type     AccountType `json:"type"`
	// OwnerID is the human user behind a page account; empty for users.
	OwnerID  string `json:"owner_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Language string `json:"language,omitempty"`
}

// Device is one registered push target for a user.
type Device struct {
	UserID    string `json:"user_id"`
	Token     string `json:"token"`
	Language  string `json:"language,omitempty"`
	Platform  string `json:"platform,omitempty"` // ios | android | web
	CreatedTS int64  `json:"created_ts,omitempty"`
}
