package auth

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauthapi "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/kudichat/kudichat/pkg/config"
	"github.com/kudichat/kudichat/pkg/logger"
	"github.com/kudichat/kudichat/pkg/utils"
)

const (
	stateCookie  = "oauth_state"
	adminJWTTTL  = 12 * time.Hour
	callbackPath = "/auth/google/callback"
)

// Handler signs admins into the dashboard with Google. There are no
// passwords to manage; the allow-list in config is the whole access model.
type Handler struct {
	cfg   config.Config
	oauth *oauth2.Config
}

func NewHandler(cfg config.Config) *Handler {
	return &Handler{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.Host + callbackPath,
			Scopes:       []string{oauthapi.UserinfoEmailScope, oauthapi.UserinfoProfileScope},
			Endpoint:     google.Endpoint,
		},
	}
}

// Login handles GET /auth/google: redirect to Google with a CSRF state.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Could not start login", nil)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   h.cfg.Env != "development",
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// Callback handles GET /auth/google/callback: exchange the code, check the
// allow-list, mint the dashboard JWT.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		utils.BuildErrorResponse(w, http.StatusUnauthorized, "Invalid login state", nil)
		return
	}

	token, err := h.oauth.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		logger.Warn("Google code exchange failed", logger.Fields{logger.ErrorKey: err.Error()})
		utils.BuildErrorResponse(w, http.StatusUnauthorized, "Google sign-in failed", nil)
		return
	}

	service, err := oauthapi.NewService(r.Context(),
		option.WithTokenSource(h.oauth.TokenSource(r.Context(), token)))
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Could not load profile", nil)
		return
	}

	info, err := service.Userinfo.Get().Do()
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Could not load profile", nil)
		return
	}

	if !IsAdminEmail(h.cfg, info.Email) {
		logger.Warn("Non-admin attempted dashboard login", logger.Fields{"email": info.Email})
		utils.BuildErrorResponse(w, http.StatusForbidden, "This account does not have dashboard access", nil)
		return
	}

	signed, err := h.mintAdminJWT(info.Email, info.Name)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Could not complete login", nil)
		return
	}

	logger.Info("Admin signed in", logger.Fields{"email": info.Email})
	utils.BuildSuccessResponse(w, http.StatusOK, "Signed in", map[string]interface{}{
		"token": signed,
		"email": info.Email,
		"name":  info.Name,
	})
}

func (h *Handler) mintAdminJWT(email, name string) (string, error) {
	claims := jwt.MapClaims{
		utils.EmailKey: email,
		"name":         name,
		"iat":          time.Now().Unix(),
		utils.ExpKey:   time.Now().Add(adminJWTTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(h.cfg.JWTSecret))
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
