package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// Revocations is an in-memory deny list of token ids (the jti claim). An
// entry is dropped once the token it names would have expired anyway.
type Revocations struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewRevocations() *Revocations {
	return &Revocations{entries: make(map[string]time.Time), now: time.Now}
}

func (r *Revocations) Revoke(jti string, until time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[jti] = until
}

func (r *Revocations) IsRevoked(jti string) bool {
	if jti == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	until, ok := r.entries[jti]
	return ok && r.now().Before(until)
}

func (r *Revocations) List() []RevocationInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RevocationInfo, 0, len(r.entries))
	for jti, until := range r.entries {
		out = append(out, RevocationInfo{JTI: jti, ExpiresAt: until})
	}
	return out
}

// Prune removes expired entries and returns how many it dropped.
func (r *Revocations) Prune() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for jti, until := range r.entries {
		if !now.Before(until) {
			delete(r.entries, jti)
			n++
		}
	}
	return n
}

// RunPruner prunes every interval until ctx is done.
func (r *Revocations) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Prune()
		}
	}
}

type RevocationInfo struct {
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
}

type revokeRequest struct {
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RegisterRevocationRoutes mounts the admin-only revocation endpoints under
// g: POST /auth/revoke and GET /auth/revocations.
func RegisterRevocationRoutes(g *echo.Group, store *Revocations) {
	admin := g.Group("/auth", RequireRole(RoleAdmin))

	admin.POST("/revoke", func(c echo.Context) error {
		var req revokeRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if req.JTI == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "jti is required")
		}
		if req.ExpiresAt.IsZero() {
			req.ExpiresAt = store.now().Add(24 * time.Hour)
		}
		store.Revoke(req.JTI, req.ExpiresAt)
		return c.NoContent(http.StatusNoContent)
	})

	admin.GET("/revocations", func(c echo.Context) error {
		entries := store.List()
		return c.JSON(http.StatusOK, map[string]interface{}{
			"count":   len(entries),
			"entries": entries,
		})
	})
}
