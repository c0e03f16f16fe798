package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/roomcast/roomcast/internal/directory"
	"github.com/roomcast/roomcast/internal/identity"
	"github.com/roomcast/roomcast/internal/ierr"
)

// Distinguishable handshake rejection reasons. All of them refuse the
// connection; clients may branch on which one they got.
var (
	ErrNoCredential      = errors.New("no credential presented")
	ErrInvalidCredential = errors.New("invalid or expired credential")
	ErrInactiveUser      = errors.New("user account is inactive")
	ErrInactiveHotel     = errors.New("hotel subscription is not active")
)

// Subscription states in which a hotel's staff may connect.
var allowedSubscriptionStates = []string{"active", "trial"}

type Claims struct {
	jwt.RegisteredClaims
	HotelID string `json:"hotelId"`
	Role    string `json:"role"`
}

type Authenticator struct {
	secret    []byte
	apiKeys   []string
	directory directory.Directory
	jwtParser *jwt.Parser
}

func NewAuthenticator(secret string, apiKeys []string, dir directory.Directory) *Authenticator {
	jwtParser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)

	return &Authenticator{
		secret:    []byte(secret),
		apiKeys:   apiKeys,
		directory: dir,
		jwtParser: jwtParser,
	}
}

func (a *Authenticator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.New("unexpected signing method")
	}
	return a.secret, nil
}

// Authenticate resolves a connection credential to a full identity. It is the
// only suspending step of the handshake; the directory lookup runs under ctx,
// so a client that disconnects mid-lookup aborts before registration.
func (a *Authenticator) Authenticate(ctx context.Context, tokenString string) (identity.Identity, error) {
	if tokenString == "" {
		return identity.Identity{}, ierr.New(ierr.ErrorCodeUnauthenticated, ErrNoCredential)
	}

	claims := Claims{}

	_, err := a.jwtParser.ParseWithClaims(tokenString, &claims, a.keyFunc)
	if err != nil {
		return identity.Identity{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.Join(ErrInvalidCredential, err))
	}

	userID, err := claims.GetSubject()
	if err != nil || userID == "" {
		return identity.Identity{}, ierr.New(ierr.ErrorCodeUnauthenticated, ErrInvalidCredential)
	}

	user, err := a.directory.FindUser(ctx, userID)
	if errors.Is(err, directory.ErrNotFound) {
		return identity.Identity{}, ierr.New(ierr.ErrorCodeUnauthenticated, ErrInvalidCredential)
	}
	if err != nil {
		return identity.Identity{}, err
	}

	if !user.Active {
		return identity.Identity{}, ierr.New(ierr.ErrorCodePermissionDenied, ErrInactiveUser)
	}

	// Token claims must match the directory record; a stale or forged tenant
	// or role claim is treated as an invalid credential.
	if claims.HotelID != user.HotelID || claims.Role != user.Role {
		return identity.Identity{}, ierr.New(ierr.ErrorCodeUnauthenticated, ErrInvalidCredential)
	}

	role, err := identity.ParseRole(user.Role)
	if err != nil {
		return identity.Identity{}, ierr.New(ierr.ErrorCodeUnauthenticated, ErrInvalidCredential)
	}

	hotel, err := a.directory.FindHotel(ctx, user.HotelID)
	if errors.Is(err, directory.ErrNotFound) {
		return identity.Identity{}, ierr.New(ierr.ErrorCodePermissionDenied, ErrInactiveHotel)
	}
	if err != nil {
		return identity.Identity{}, err
	}

	if !slices.Contains(allowedSubscriptionStates, hotel.SubscriptionStatus) {
		return identity.Identity{}, ierr.New(ierr.ErrorCodePermissionDenied, ErrInactiveHotel)
	}

	return identity.Identity{
		UserID:  user.ID,
		HotelID: user.HotelID,
		Role:    role,
		Name:    user.Name,
		Email:   user.Email,
	}, nil
}

// AuthenticateAPIKey authorizes a business-logic collaborator calling the
// REST notify surface.
func (a *Authenticator) AuthenticateAPIKey(apiKey string) error {
	for _, key := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			return nil
		}
	}

	return ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("invalid api key"))
}
