package httpapi

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-reconciler/core"
)

const (
	localUser     = "reconciler.user"
	sessionCookie = "__session"
)

// UserProvisioner creates a local user from an identity provider profile.
type UserProvisioner interface {
	EnsureUser(ctx context.Context, subject core.ProviderUser) (core.User, bool, error)
}

// Authenticator checks the identity provider's RS256 session token and makes
// sure a local user exists for its subject.
type Authenticator struct {
	PublicKey   *rsa.PublicKey
	Issuer      string
	Users       core.UserStore
	Profiles    core.IdentityProviderClient
	Provisioner UserProvisioner
	Logger      core.Logger
	Leeway      time.Duration
}

// ParsePublicKey reads a PEM encoded RSA public key.
func ParsePublicKey(pemKey string) (*rsa.PublicKey, error) {
	pemKey = strings.TrimSpace(strings.ReplaceAll(pemKey, `\n`, "\n"))
	if pemKey == "" {
		return nil, fmt.Errorf("httpapi: jwt public key is required")
	}
	return jwt.ParseRSAPublicKeyFromPEM([]byte(pemKey))
}

func (a *Authenticator) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return unauthorized("httpapi: session token is required")
		}
		subject, err := a.verify(token)
		if err != nil {
			a.logger().Debug("session token rejected", "error", err)
			return unauthorized("httpapi: invalid session token")
		}
		user, err := a.resolveUser(c.UserContext(), subject)
		if err != nil {
			return err
		}
		c.Locals(localUser, user)
		return c.Next()
	}
}

func (a *Authenticator) verify(token string) (string, error) {
	if a == nil || a.PublicKey == nil {
		return "", fmt.Errorf("httpapi: authenticator has no public key")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.Leeway),
	}
	if issuer := strings.TrimSpace(a.Issuer); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.PublicKey, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("httpapi: token has no subject")
	}
	return strings.TrimSpace(claims.Subject), nil
}

// resolveUser loads the local user or creates it from the provider profile
// the first time a subject shows up.
func (a *Authenticator) resolveUser(ctx context.Context, subject string) (core.User, error) {
	user, err := a.Users.Get(ctx, subject)
	if err == nil {
		return user, nil
	}
	if !core.IsNotFound(err) {
		return core.User{}, err
	}
	if a.Profiles == nil || a.Provisioner == nil {
		return core.User{}, core.NotFound("user", subject)
	}
	profile, err := a.Profiles.GetUser(ctx, subject)
	if err != nil {
		return core.User{}, err
	}
	user, created, err := a.Provisioner.EnsureUser(ctx, profile)
	if err != nil {
		return core.User{}, err
	}
	if created {
		a.logger().Info("user created on first request", "user_id", user.ID, "company_id", user.CompanyID)
	}
	return user, nil
}

func (a *Authenticator) logger() core.Logger {
	if a == nil || a.Logger == nil {
		return glog.Nop()
	}
	return a.Logger
}

// CurrentUser returns the user the auth middleware resolved.
func CurrentUser(c *fiber.Ctx) (core.User, bool) {
	user, ok := c.Locals(localUser).(core.User)
	return user, ok
}

func bearerToken(c *fiber.Ctx) string {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(c.Cookies(sessionCookie))
}
