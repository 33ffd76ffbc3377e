package templates

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"trustpipe/internal/config"
	"trustpipe/internal/constants"
	"trustpipe/internal/logger"
	"trustpipe/internal/verification"
	"trustpipe/pkg/errors"
	"trustpipe/pkg/sign"
)

// TokenClaims is the signed body of a portal token. Exp is absolute epoch
// seconds; Aud binds the token to one lease so it cannot be replayed against
// another lease's action endpoint even if leaked.
type TokenClaims struct {
	OwnerEmail string `json:"owner_email"`
	LeaseID    string `json:"lease_id"`
	Action     string `json:"action"`
	Aud        string `json:"aud"`
	Exp        int64  `json:"exp"`
}

// PortalLinkBuilder mints signed, short-lived action links. Tokens are
// stateless capability grants: validity is entirely self-contained, there is
// no session store.
type PortalLinkBuilder struct {
	secret  []byte
	baseURL string
	now     func() time.Time
	logger  logger.Logger
}

func NewPortalLinkBuilder(cfg config.PortalConfig, log logger.Logger) *PortalLinkBuilder {
	var secret []byte
	if cfg.SigningSecret != "" {
		secret = []byte(cfg.SigningSecret)
	}
	return &PortalLinkBuilder{
		secret:  secret,
		baseURL: cfg.BaseURL,
		now:     time.Now,
		logger:  log,
	}
}

func (b *PortalLinkBuilder) Configured() bool {
	return len(b.secret) > 0 && b.baseURL != ""
}

// GenerateLink returns the full portal URL for a lease action, or ok=false
// when signing is not configured. A missing convenience link is acceptable;
// a forgeable one is not.
func (b *PortalLinkBuilder) GenerateLink(key verification.LeaseKey, action string) (string, bool) {
	if !b.Configured() {
		b.logger.Warnw("Portal link omitted: signing secret or base URL not configured",
			"lease_id", key.LeaseID,
			"action", action,
		)
		return "", false
	}

	token, err := b.MintToken(key, action)
	if err != nil {
		b.logger.Errorw("Failed to mint portal token",
			"error", err,
			"lease_id", key.LeaseID,
			"action", action,
		)
		return "", false
	}

	u, err := url.Parse(b.baseURL)
	if err != nil {
		b.logger.Errorw("Portal base URL is not parseable", "error", err)
		return "", false
	}

	q := u.Query()
	q.Set("token", token)
	q.Set("utm_source", "sandbox-notify")
	q.Set("utm_medium", "email")
	u.RawQuery = q.Encode()

	return u.String(), true
}

// MintToken signs the canonical claims serialization with the process-wide
// secret. The opaque form is base64url(claims) + "." + hex(hmac).
func (b *PortalLinkBuilder) MintToken(key verification.LeaseKey, action string) (string, error) {
	claims := TokenClaims{
		OwnerEmail: strings.ToLower(key.OwnerEmail),
		LeaseID:    key.LeaseID,
		Action:     action,
		Aud:        key.Audience(),
		Exp:        b.now().Add(constants.PortalTokenTTL).Unix(),
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", errors.Permanent("TOKEN_ENCODING", "failed to encode token claims").WithCause(err)
	}

	sig := sign.HMAC(b.secret, payload)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + sig, nil
}

// VerifyToken checks a portal token against an expected lease audience.
// Signature is checked first and in constant time; expiry failure is
// reported even when the signature is valid.
func VerifyToken(secret []byte, token string, key verification.LeaseKey, now time.Time) (*TokenClaims, error) {
	dot := strings.LastIndex(token, ".")
	if dot <= 0 || dot == len(token)-1 {
		return nil, errors.Security("TOKEN_MALFORMED", "token is not payload.signature")
	}

	payload, err := base64.RawURLEncoding.DecodeString(token[:dot])
	if err != nil {
		return nil, errors.Security("TOKEN_MALFORMED", "token payload is not base64url").WithCause(err)
	}

	if !sign.VerifyHMAC(secret, payload, token[dot+1:]) {
		return nil, errors.Security("TOKEN_SIGNATURE", "token signature verification failed")
	}

	var claims TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, errors.Security("TOKEN_MALFORMED", "token payload is not valid claims").WithCause(err)
	}

	if claims.Aud != key.Audience() {
		return nil, errors.Security("TOKEN_AUDIENCE", "token audience does not match lease")
	}

	if now.Unix() >= claims.Exp {
		return nil, errors.Permanent("TOKEN_EXPIRED", "token has expired")
	}

	return &claims, nil
}
