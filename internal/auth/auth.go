package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/questmap/backend/internal/domain"
	"github.com/questmap/backend/internal/models"
	"github.com/questmap/backend/internal/notify"
	"github.com/questmap/backend/internal/store"
)

var jwtSecret = []byte(os.Getenv("JWT_SECRET"))

const (
	codeLength      = 6
	codeTTL         = 10 * time.Minute
	tokenTTL        = 72 * time.Hour
	maxCodeAttempts = 5
)

type pendingCode struct {
	hash      []byte
	expiresAt time.Time
	attempts  int
}

// Service implements passwordless login: a one-time code is delivered out of
// band, verifying it yields a signed JWT. Codes are stored hashed and expire
// after ten minutes.
type Service struct {
	store  *store.Store
	notify *notify.Service
	log    *zap.SugaredLogger

	mu      sync.Mutex
	pending map[string]pendingCode
}

func NewService(st *store.Store, n *notify.Service, log *zap.SugaredLogger) *Service {
	return &Service{
		store:   st,
		notify:  n,
		log:     log,
		pending: make(map[string]pendingCode),
	}
}

// RequestCode generates and delivers a one-time login code for the given
// identity. When no delivery transport is configured the code is returned
// in band so local development works without credentials.
func (s *Service) RequestCode(identity string) (devCode string, err error) {
	identity = strings.ToLower(strings.TrimSpace(identity))
	if identity == "" {
		return "", fmt.Errorf("%w: missing identity", domain.ErrInvalidEntity)
	}

	code, err := randomDigits(codeLength)
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.sweepLocked(time.Now())
	s.pending[identity] = pendingCode{hash: hash, expiresAt: time.Now().Add(codeTTL)}
	s.mu.Unlock()

	delivered := s.notify.Deliver(identity, "Your login code: "+code)
	s.log.Infow("login code issued", "identity", identity, "delivered", delivered)
	if delivered {
		return "", nil
	}
	return code, nil
}

// VerifyCode checks the one-time code, provisions the user on first login
// and returns a signed token plus the user record.
func (s *Service) VerifyCode(identity, code string) (string, models.User, error) {
	identity = strings.ToLower(strings.TrimSpace(identity))

	s.mu.Lock()
	p, ok := s.pending[identity]
	if ok && time.Now().After(p.expiresAt) {
		// An expired code can never verify; drop the entry so abandoned
		// requests do not accumulate.
		delete(s.pending, identity)
		ok = false
	}
	if ok {
		p.attempts++
		if p.attempts > maxCodeAttempts {
			delete(s.pending, identity)
		} else {
			s.pending[identity] = p
		}
	}
	s.mu.Unlock()

	if !ok || p.attempts > maxCodeAttempts {
		return "", models.User{}, domain.ErrUnauthenticated
	}
	if err := bcrypt.CompareHashAndPassword(p.hash, []byte(code)); err != nil {
		return "", models.User{}, domain.ErrUnauthenticated
	}

	s.mu.Lock()
	delete(s.pending, identity)
	s.mu.Unlock()

	user, err := s.findOrCreateUser(identity)
	if err != nil {
		return "", models.User{}, err
	}
	token, err := SignToken(user)
	if err != nil {
		return "", models.User{}, err
	}
	return token, user, nil
}

// sweepLocked drops expired pending codes. Identities that request a code and
// never verify would otherwise grow the map without bound. Caller holds s.mu.
func (s *Service) sweepLocked(now time.Time) {
	for id, p := range s.pending {
		if now.After(p.expiresAt) {
			delete(s.pending, id)
		}
	}
}

func (s *Service) findOrCreateUser(email string) (models.User, error) {
	if u, ok := s.store.FindUserByEmail(email); ok {
		return u, nil
	}
	now := time.Now().UTC()
	u := models.User{
		SchemaVersion: models.SchemaVersion,
		ID:            uuid.NewString(),
		Email:         email,
		Reputation:    models.DefaultReputation,
		Role:          models.RoleUser,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.PutUser(u); err != nil {
		return models.User{}, err
	}
	s.log.Infow("user created", "id", u.ID, "email", email)
	return u, nil
}

// SignToken issues an HS256 JWT for the user, valid for 72 hours.
func SignToken(user models.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID,
		"email":   user.Email,
		"role":    user.Role,
		"exp":     time.Now().Add(tokenTTL).Unix(), // 72 hours
	})
	signed, err := token.SignedString(jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token string and returns its claims.
func ParseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, domain.ErrUnauthenticated
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, domain.ErrUnauthenticated
	}
	return claims, nil
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%d", d.Int64())
	}
	return b.String(), nil
}
