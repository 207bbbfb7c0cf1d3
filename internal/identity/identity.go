package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"cockpit/pkg/types"
)

// Identity is the externally supplied participant triple. The core never
// issues or refreshes credentials; it only consumes what the identity
// collaborator hands over.
type Identity struct {
	ParticipantID string
	DisplayName   string
	Role          types.Role
}

// Provider supplies the local participant's identity and authentication
// state.
type Provider interface {
	Identity() Identity
	IsAuthenticated() bool
}

// Participant converts the identity into a session participant record.
func (i Identity) Participant() types.Participant {
	return types.Participant{
		ID:          i.ParticipantID,
		DisplayName: i.DisplayName,
		Role:        i.Role,
	}
}

// Validate checks the triple is usable.
func (i Identity) Validate() error {
	if !types.IsValidParticipantID(i.ParticipantID) {
		return types.ErrInvalidParticipantID
	}
	if len(i.DisplayName) < 1 || len(i.DisplayName) > 100 {
		return types.ErrInvalidDisplayName
	}
	if !types.IsValidRole(i.Role) {
		return types.ErrInvalidRole
	}
	return nil
}

// StaticProvider wraps a fixed identity, used by tools and tests.
type StaticProvider struct {
	identity      Identity
	authenticated bool
}

// NewStaticProvider creates a provider that always returns the identity.
func NewStaticProvider(id Identity) *StaticProvider {
	return &StaticProvider{identity: id, authenticated: true}
}

func (p *StaticProvider) Identity() Identity    { return p.identity }
func (p *StaticProvider) IsAuthenticated() bool { return p.authenticated }

// SetAuthenticated flips the authentication state, used to simulate auth
// loss in tests.
func (p *StaticProvider) SetAuthenticated(ok bool) { p.authenticated = ok }

// Claims is the JWT claim set the external auth service issues.
type Claims struct {
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid identity token")
)

// FromToken decodes an externally issued HMAC-signed token into an
// Identity. The signing key is shared with the issuing service; issuance
// itself stays outside this core.
func FromToken(tokenString string, key []byte) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	id := Identity{
		ParticipantID: claims.Subject,
		DisplayName:   claims.DisplayName,
		Role:          types.Role(claims.Role),
	}
	if err := id.Validate(); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return id, nil
}
