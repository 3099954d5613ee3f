package stub

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 12 * time.Hour

// Account is a stub user with a bcrypt password hash and the group role
// assignments the session endpoint reports.
type Account struct {
	ID           string
	Username     string
	PasswordHash []byte
	Owner        bool
	Admin        bool
	Role         string
	Groups       map[string]string
}

// NewAccount hashes the password and builds an account.
func NewAccount(id, username, password, role string, groups map[string]string) (Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, fmt.Errorf("failed to hash password: %w", err)
	}
	return Account{
		ID:           id,
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Groups:       groups,
	}, nil
}

// authenticator issues and validates HS256 tokens for stub accounts.
type authenticator struct {
	secret   []byte
	accounts map[string]Account
}

func newAuthenticator(secret []byte, accounts []Account) *authenticator {
	byName := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		byName[a.Username] = a
	}
	return &authenticator{secret: secret, accounts: byName}
}

func (a *authenticator) login(username, password string) (string, error) {
	account, ok := a.accounts[username]
	if !ok {
		return "", fmt.Errorf("unknown user %q", username)
	}
	if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(password)); err != nil {
		return "", fmt.Errorf("wrong password for %q", username)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": account.ID,
		"usr": account.Username,
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	})
	return token.SignedString(a.secret)
}

func (a *authenticator) verify(token string) (Account, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return Account{}, err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Account{}, fmt.Errorf("unexpected claims shape")
	}
	username, _ := claims["usr"].(string)
	account, ok := a.accounts[username]
	if !ok {
		return Account{}, fmt.Errorf("token for unknown user %q", username)
	}
	return account, nil
}

// middleware rejects requests without a valid bearer token and stashes the
// account on the echo context.
func (a *authenticator) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		}

		account, err := a.verify(token)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		}

		c.Set("account", account)
		return next(c)
	}
}
