package authorization

import (
	"strings"
	"sync"
	"time"

	"github.com/mojocn/base64Captcha"
)

// Challenge is an issued captcha image awaiting an answer.
type Challenge struct {
	ID          string
	ImageBase64 string
	ExpiresAt   time.Time
}

// CaptchaStore issues and verifies digit captchas for registration and login.
type CaptchaStore struct {
	mu     sync.Mutex
	driver *base64Captcha.DriverDigit
	store  base64Captcha.Store
	ttl    time.Duration
}

func NewCaptchaStore(ttl time.Duration) *CaptchaStore {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &CaptchaStore{
		driver: base64Captcha.NewDriverDigit(60, 160, 5, 0.7, 80),
		store:  base64Captcha.NewMemoryStore(2048, ttl),
		ttl:    ttl,
	}
}

// Issue generates a new challenge. The zero Challenge means generation failed
// and the caller should retry.
func (s *CaptchaStore) Issue() Challenge {
	if s == nil {
		return Challenge{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	captcha := base64Captcha.NewCaptcha(s.driver, s.store)
	id, image, _, err := captcha.Generate()
	if err != nil {
		return Challenge{}
	}

	data := strings.TrimSpace(image)
	if data != "" && !strings.HasPrefix(data, "data:") {
		data = "data:image/png;base64," + data
	}
	return Challenge{ID: id, ImageBase64: data, ExpiresAt: time.Now().Add(s.ttl)}
}

// Verify consumes the challenge: a correct answer can only be used once.
func (s *CaptchaStore) Verify(id, answer string) bool {
	if s == nil {
		return true
	}
	id = strings.TrimSpace(id)
	answer = strings.TrimSpace(answer)
	if id == "" || answer == "" {
		return false
	}
	captcha := base64Captcha.NewCaptcha(s.driver, s.store)
	return captcha.Verify(id, answer, true)
}
