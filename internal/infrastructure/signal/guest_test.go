package signal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fluxx/internal/core/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuestEndpoint(t *testing.T) {
	cases := map[string]string{
		"ws://localhost:8080/ws":          "http://localhost:8080/api/v1/auth/guest",
		"wss://chat.example.com/ws?x=1":   "https://chat.example.com/api/v1/auth/guest",
		"http://localhost:8080/somewhere": "http://localhost:8080/api/v1/auth/guest",
	}
	for in, want := range cases {
		got, err := GuestEndpoint(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := GuestEndpoint("ftp://localhost")
	assert.Error(t, err)
}

func TestRequestGuestToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := services.NewAuthService("test-secret", time.Hour)

	router := gin.New()
	router.POST(guestPath, func(c *gin.Context) {
		var req struct {
			DisplayName string `json:"display_name"`
		}
		require.NoError(t, c.ShouldBindJSON(&req))
		user, token, err := auth.IssueGuest(req.DisplayName)
		require.NoError(t, err)
		c.JSON(http.StatusCreated, gin.H{"user_id": user.ID, "display_name": user.DisplayName, "token": token})
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	user, token, err := RequestGuestToken(testContext(t), wsURL, "Zoe")
	require.NoError(t, err)
	assert.Equal(t, "Zoe", user.DisplayName)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
}

func TestRequestGuestToken_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	_, _, err := RequestGuestToken(testContext(t), srv.URL, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
