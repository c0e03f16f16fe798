package directory

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a user or hotel does not exist in the store.
var ErrNotFound = errors.New("not found")

// User is a staff account as stored in the platform directory.
type User struct {
	ID      string
	HotelID string
	Role    string
	Name    string
	Email   string
	Active  bool
}

// Hotel is one tenant account.
type Hotel struct {
	ID                 string
	Name               string
	SubscriptionStatus string
}

// Directory resolves credentials to user and hotel records. It is the only
// suspending dependency of the connection handshake.
type Directory interface {
	FindUser(ctx context.Context, userID string) (User, error)
	FindHotel(ctx context.Context, hotelID string) (Hotel, error)
}
