// auth.go - Bearer token authentication, the password grant, and the
// per-request context handed to authenticated handlers.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"csv-file-drop/internal/common"
	"csv-file-drop/internal/files"
	"csv-file-drop/internal/users"
)

const maxFormBytes = 64 << 10

var (
	errNotAuthenticated = common.WithDetail(common.ErrUnauthorized, "Not authenticated")
	errBadCredentials   = common.WithDetail(common.ErrUnauthorized, "Could not validate credentials")
	errAdminRequired    = common.WithDetail(common.ErrForbidden, "Requires admin privileges")
)

// requestContext is built once per authenticated request and passed to the
// handler explicitly.
type requestContext struct {
	User  users.Record
	Users *users.Service
	Files *files.Service
	Log   *zap.Logger
}

type authedHandler func(w http.ResponseWriter, r *http.Request, rc *requestContext)

// resolveUsername maps the "me" alias to the caller.
func (rc *requestContext) resolveUsername(name string) string {
	if name == users.MeAlias {
		return rc.User.Username
	}
	return name
}

// authorize allows acting on yourself, and on anyone else only as admin.
func (rc *requestContext) authorize(target string) error {
	if target == rc.User.Username || rc.User.IsAdmin() {
		return nil
	}
	return errAdminRequired
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// resolveCurrentUser turns a token into the live record of its subject.
// Missing and disabled users are rejected like a bad token.
func (s *Server) resolveCurrentUser(ctx context.Context, token string) (users.Record, error) {
	claims, err := s.codec.Decode(token)
	if err != nil {
		return users.Record{}, errBadCredentials
	}
	rec, err := s.users.Get(ctx, claims.Subject)
	if errors.Is(err, common.ErrNotFound) {
		return users.Record{}, errBadCredentials
	}
	if err != nil {
		return users.Record{}, err
	}
	if rec.IsDisabled() {
		return users.Record{}, errBadCredentials
	}
	return rec, nil
}

func (s *Server) requireAuth(h authedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, r, s.log, errNotAuthenticated)
			return
		}
		rec, err := s.resolveCurrentUser(r.Context(), token)
		if err != nil {
			writeError(w, r, s.log, err)
			return
		}
		h(w, r, &requestContext{
			User:  rec,
			Users: s.users,
			Files: s.files,
			Log:   s.log.With(zap.String("user", rec.Username)),
		})
	})
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// handleToken is the OAuth2 password grant.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	limitBody(w, r, maxFormBytes)
	if err := r.ParseMultipartForm(maxFormBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, r, s.log, common.WithDetail(common.ErrValidation, "invalid form body"))
		return
	}

	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")
	switch {
	case username == "":
		writeError(w, r, s.log, common.WithDetail(common.ErrValidation, "username: field required"))
		return
	case password == "":
		writeError(w, r, s.log, common.WithDetail(common.ErrValidation, "password: field required"))
		return
	}

	if locked, until := s.lockout.isLocked(username); locked {
		s.metrics.RecordLogin("locked")
		retry := int(time.Until(until).Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeDetail(w, http.StatusTooManyRequests, "Too many failed login attempts")
		return
	}

	rec, err := s.users.Authenticate(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, common.ErrUnauthorized) {
			s.metrics.RecordLogin("failure")
			if locked, until := s.lockout.recordFailure(username); locked {
				s.log.Warn("username locked", zap.String("username", username), zap.Time("until", until))
			}
		}
		writeError(w, r, s.log, err)
		return
	}
	s.lockout.recordSuccess(username)

	token, _, err := s.codec.Issue(rec.Username)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	s.metrics.RecordLogin("success")
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}
