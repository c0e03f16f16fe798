package identity

import "fmt"

// Role is the closed set of staff roles a connection can carry.
type Role string

const (
	RoleHotelManager Role = "hotel_manager"
	RoleFrontDesk    Role = "front_desk"
	RoleHousekeeping Role = "housekeeping"
	RoleMaintenance  Role = "maintenance"
)

var roles = map[Role]struct{}{
	RoleHotelManager: {},
	RoleFrontDesk:    {},
	RoleHousekeeping: {},
	RoleMaintenance:  {},
}

// ParseRole rejects unrecognized role strings at the boundary instead of
// letting them flow into the registry.
func ParseRole(s string) (Role, error) {
	role := Role(s)
	if _, ok := roles[role]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}

	return role, nil
}

// Identity is the resolved result of authenticating a connection credential.
type Identity struct {
	UserID  string `json:"userId"`
	HotelID string `json:"hotelId"`
	Role    Role   `json:"role"`
	Name    string `json:"name"`
	Email   string `json:"email"`
}
