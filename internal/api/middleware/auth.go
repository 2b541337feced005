package middleware

import (
	"net/http"

	"facewatch/internal/core/models"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	sessionUserID = "user_id"
	sessionEmail  = "email"
	sessionRole   = "role"
	contextUser   = "user"
)

// SessionUser ist der in der Session hinterlegte Benutzer
type SessionUser struct {
	ID    uint   `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// roleRank ordnet Rollen nach Berechtigung; höhere Rollen schließen niedrigere ein
var roleRank = map[string]int{
	models.RoleViewer:   1,
	models.RoleOperator: 2,
	models.RoleAdmin:    3,
}

// ValidRole prüft, ob die Rolle bekannt ist
func ValidRole(role string) bool {
	_, ok := roleRank[role]
	return ok
}

// Login speichert den Benutzer in der Session
func Login(c *gin.Context, user *models.User) error {
	session := sessions.Default(c)
	session.Set(sessionUserID, user.ID)
	session.Set(sessionEmail, user.Email)
	session.Set(sessionRole, user.Role)
	return session.Save()
}

// Logout verwirft die Session
func Logout(c *gin.Context) error {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	return session.Save()
}

// CurrentUser liefert den angemeldeten Benutzer der Anfrage
func CurrentUser(c *gin.Context) (SessionUser, bool) {
	if u, ok := c.Get(contextUser); ok {
		return u.(SessionUser), true
	}
	session := sessions.Default(c)
	id, ok := session.Get(sessionUserID).(uint)
	if !ok {
		return SessionUser{}, false
	}
	email, _ := session.Get(sessionEmail).(string)
	role, _ := session.Get(sessionRole).(string)
	return SessionUser{ID: id, Email: email, Role: role}, true
}

// RequireRole lässt nur angemeldete Benutzer mit mindestens der angegebenen Rolle durch.
// Ist die Authentifizierung deaktiviert, wird jede Anfrage als Admin behandelt.
func RequireRole(enabled bool, role string) gin.HandlerFunc {
	required := roleRank[role]
	return func(c *gin.Context) {
		if !enabled {
			c.Set(contextUser, SessionUser{Email: "anonymous", Role: models.RoleAdmin})
			c.Next()
			return
		}

		user, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": T(c, "unauthorized")})
			return
		}
		if roleRank[user.Role] < required {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": T(c, "forbidden")})
			return
		}
		c.Set(contextUser, user)
		c.Next()
	}
}
