package notify

import (
	"encoding/json"
	"errors"

	"convod/pkg/models"
	"convod/pkg/store"
)

// Recipient is one resolved delivery target: the human user the row
// belongs to and the surface it renders on.
type Recipient struct {
	UserID string
	For    models.NotificationFor
}

// RecipientResolver maps a raw recipient account id to the rows that
// should exist for it. Plain users yield one row; page accounts redirect
// to the owning human with a second owner-surface row.
type RecipientResolver interface {
	Resolve(accountID string) ([]Recipient, error)
}

// StoreResolver resolves recipients against the account registry.
type StoreResolver struct{}

// NewStoreResolver returns a resolver backed by the account namespace.
func NewStoreResolver() *StoreResolver { return &StoreResolver{} }

// Resolve implements RecipientResolver. Unknown accounts are treated as
// plain users so a missing registry entry never swallows a notification.
func (r *StoreResolver) Resolve(accountID string) ([]Recipient, error) {
	b, err := store.GetDoc(store.NSAccount, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []Recipient{{UserID: accountID, For: models.ForUser}}, nil
		}
		return nil, err
	}
	var a models.Account
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, err
	}
	if a.Type == models.AccountPage && a.OwnerID != "" {
		// the page surface and the owning human both see an entry
		return []Recipient{
			{UserID: a.OwnerID, For: models.ForPage},
			{UserID: a.OwnerID, For: models.ForOwner},
		}, nil
	}
	return []Recipient{{UserID: accountID, For: models.ForUser}}, nil
}

// accountName resolves a display name for push copy, falling back to the id.
func accountName(id string) string {
	b, err := store.GetDoc(store.NSAccount, id)
	if err != nil {
		return id
	}
	var a models.Account
	if err := json.Unmarshal(b, &a); err != nil || a.Name == "" {
		return id
	}
	return a.Name
}
