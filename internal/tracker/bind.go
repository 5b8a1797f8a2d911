package tracker

import (
	"log/slog"

	"github.com/mmynk/dosetrack/internal/identity"
)

// Bind ties the tracker's session lifecycle to an identity provider:
// login starts a session for the new user id, logout tears it down. This
// is what guarantees the subscription and day timer are released on user
// switch: the cache must never survive into another user's session.
func (t *Tracker) Bind(p identity.Provider) {
	p.OnLogin(func(userID string) {
		if err := t.Start(userID); err != nil {
			slog.Error("failed to start tracker session on login", "user_id", userID, "error", err)
		}
	})
	p.OnLogout(func() {
		t.Stop()
	})
}
