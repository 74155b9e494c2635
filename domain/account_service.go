package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password, in characters.
const MinPasswordLength = 6

// bcrypt ignores everything past 72 bytes.
const maxPasswordBytes = 72

var validate = validator.New()

// TokenIssuer signs session tokens for authenticated users.
type TokenIssuer interface {
	IssueToken(userID string) (string, error)
}

// Session is returned after a successful register or login.
type Session struct {
	Token string     `json:"token"`
	User  PublicUser `json:"user"`
}

// AccountService registers and authenticates users.
type AccountService struct {
	st     UserStore
	tokens TokenIssuer
	cost   int
	now    func() time.Time
}

func NewAccountService(st UserStore, tokens TokenIssuer, bcryptCost int) *AccountService {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AccountService{st: st, tokens: tokens, cost: bcryptCost, now: time.Now}
}

// NormalizeEmail is the canonical form used for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AccountService) Register(ctx context.Context, email, password, name string) (*Session, error) {
	email = NormalizeEmail(email)
	var fields []FieldError
	if err := validate.Var(email, "required,email"); err != nil {
		fields = append(fields, FieldError{Field: "email", Message: "Invalid email"})
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		fields = append(fields, FieldError{Field: "password", Message: "Password must be at least 6 characters"})
	} else if len(password) > maxPasswordBytes {
		fields = append(fields, FieldError{Field: "password", Message: "Password must be at most 72 bytes"})
	}
	if len(fields) > 0 {
		return nil, Validation(fields[0].Message, fields...)
	}

	existing, err := s.st.UserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if existing != nil {
		return nil, Conflict("Email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	user := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         strings.TrimSpace(name),
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.st.InsertUser(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, Conflict("Email already registered")
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return s.session(user)
}

func (s *AccountService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = NormalizeEmail(email)
	if err := validate.Var(email, "required,email"); err != nil {
		return nil, Validation("Invalid email", FieldError{Field: "email", Message: "Invalid email"})
	}
	if password == "" {
		return nil, Validation("Password is required", FieldError{Field: "password", Message: "Password is required"})
	}

	user, err := s.st.UserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if user == nil {
		return nil, Unauthorized("Invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, Unauthorized("Invalid credentials")
	}
	return s.session(*user)
}

// Profile returns the public view of userID.
func (s *AccountService) Profile(ctx context.Context, userID string) (*PublicUser, error) {
	user, err := s.st.UserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("looking up user %s: %w", userID, err)
	}
	if user == nil {
		return nil, NotFound("User not found")
	}
	pub := user.Public()
	return &pub, nil
}

func (s *AccountService) session(u User) (*Session, error) {
	token, err := s.tokens.IssueToken(u.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}
	return &Session{Token: token, User: u.Public()}, nil
}
