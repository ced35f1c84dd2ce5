package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"chatcore/pkg/logger"
	"chatcore/pkg/models"
	"chatcore/pkg/store"
	"chatcore/pkg/utils"
)

// Identity is the caller as resolved at the entry boundary: either an
// authenticated user id, or a guest profile that has not been
// materialized yet. Exactly one side is set.
type Identity struct {
	UserID string
	Guest  *GuestProfile
}

// GuestProfile carries what an unauthenticated sender told us about
// themselves. Email is the upsert key; a missing email gets one
// synthesized.
type GuestProfile struct {
	Name  string
	Email string
}

// Authenticated wraps a known user id.
func Authenticated(userID string) Identity {
	return Identity{UserID: userID}
}

// GuestIdentity wraps an unauthenticated caller's profile.
func GuestIdentity(name, email string) Identity {
	return Identity{Guest: &GuestProfile{Name: name, Email: email}}
}

// IsAuthenticated reports whether the identity carries a session user.
func (id Identity) IsAuthenticated() bool { return id.UserID != "" }

// resolveSender turns an identity into a concrete user id, creating a
// guest user row on first contact. Guests are keyed by email so a
// returning guest maps onto the same user.
func resolveSender(id Identity) (string, error) {
	if id.UserID != "" {
		return id.UserID, nil
	}
	if id.Guest == nil {
		return "", ErrUnauthorized
	}
	email := strings.TrimSpace(id.Guest.Email)
	if email == "" {
		email = fmt.Sprintf("guest-%s@guest.local", utils.GenID())
	}
	if u, err := store.FindUserByEmail(email); err == nil {
		return u.ID, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", storageErr("find guest", err)
	}
	name := strings.TrimSpace(id.Guest.Name)
	if name == "" {
		name = "Guest"
	}
	u := &models.User{
		ID:        utils.GenID(),
		Name:      name,
		Email:     email,
		Role:      models.RoleGuest,
		Guest:     true,
		CreatedTS: time.Now().UTC().UnixNano(),
	}
	if err := store.SaveUser(u); err != nil {
		return "", storageErr("create guest", err)
	}
	logger.Info("guest_user_created", "user", u.ID)
	return u.ID, nil
}

// displayName resolves a user's name for event payloads. Unknown users
// fall back to their id.
func displayName(userID string) string {
	u, err := store.GetUser(userID)
	if err != nil || u.Name == "" {
		return userID
	}
	return u.Name
}
