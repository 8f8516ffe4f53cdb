package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/identity"
	"github.com/gin-gonic/gin"
)

// Browsers forget cookies older than 400 days regardless of max-age.
const cookieMaxAgeSeconds = 400 * 24 * 60 * 60

// cookieStorage keeps the neighbor id in a browser cookie scoped to one request.
type cookieStorage struct {
	context *gin.Context
	name    string
}

func (s cookieStorage) Load(key string) (string, error) {
	if key != identity.NeighborIDKey {
		return "", nil
	}
	value, err := s.context.Cookie(s.name)
	if errors.Is(err, http.ErrNoCookie) {
		return "", nil
	}
	if err != nil {
		return "", identity.ErrStorageUnavailable
	}
	return value, nil
}

func (s cookieStorage) Store(key, value string) error {
	if key != identity.NeighborIDKey {
		return identity.ErrStorageUnavailable
	}
	s.context.SetSameSite(http.SameSiteLaxMode)
	s.context.SetCookie(s.name, value, cookieMaxAgeSeconds, "/", "", s.context.Request.TLS != nil, true)
	return nil
}

func (h *httpHandler) neighborIdentity(c *gin.Context) *identity.Provider {
	return identity.NewProvider(identity.ProviderConfig{
		Storage: cookieStorage{context: c, name: h.cookieName},
		Logger:  h.logger,
	})
}

func (h *httpHandler) handleIdentity(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"neighborId": h.neighborIdentity(c).GetOrCreateNeighborID()})
}
