package stub

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthenticator(t *testing.T) *authenticator {
	t.Helper()
	account, err := NewAccount("u1", "steve", "creeper", "USER", nil)
	require.NoError(t, err)
	return newAuthenticator([]byte("test-secret"), []Account{account})
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	auth := testAuthenticator(t)

	token, err := auth.login("steve", "creeper")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	account, err := auth.verify(token)
	require.NoError(t, err)
	assert.Equal(t, "steve", account.Username)
	assert.Equal(t, "u1", account.ID)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	auth := testAuthenticator(t)

	_, err := auth.login("steve", "wrong")
	assert.Error(t, err)

	_, err = auth.login("nobody", "creeper")
	assert.Error(t, err)
}

func TestVerifyRejectsForgedToken(t *testing.T) {
	auth := testAuthenticator(t)
	other := testAuthenticator(t)
	other.secret = []byte("different-secret")

	token, err := other.login("steve", "creeper")
	require.NoError(t, err)

	_, err = auth.verify(token)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	auth := testAuthenticator(t)
	e := echo.New()

	handler := auth.middleware(func(c echo.Context) error {
		account := c.Get("account").(Account)
		return c.String(http.StatusOK, account.Username)
	})

	call := func(authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
		if authorization != "" {
			req.Header.Set(echo.HeaderAuthorization, authorization)
		}
		rec := httptest.NewRecorder()
		require.NoError(t, handler(e.NewContext(req, rec)))
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, call("").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer garbage").Code)

	token, err := auth.login("steve", "creeper")
	require.NoError(t, err)

	rec := call("Bearer " + token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "steve", rec.Body.String())
}
