package auth

import (
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	OwnerID uuid.UUID
	Role    enums.Role
	JTI     string
}

// AccessTokenClaims represents the typed JWT presented by clients. The owner id is the
// cart/order owner every request acts for.
type AccessTokenClaims struct {
	OwnerID uuid.UUID  `json:"owner_id"`
	Role    enums.Role `json:"role"`
	jwt.RegisteredClaims
}
