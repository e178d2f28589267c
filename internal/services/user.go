package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"moneybook/internal/auth"
	"moneybook/internal/core"
	"moneybook/internal/credential"
	"moneybook/internal/log"
	"moneybook/internal/storage"
)

// ErrUnauthorized is returned when a session names a user that no longer
// exists.
var ErrUnauthorized = errors.New("unauthorized")

// Names of the accounts every new user starts with.
const (
	DefaultStandardAccount = "Cash"
	DefaultDebtAccount     = "Credit card"
)

type RegisterInput struct {
	Email          string
	Password       string
	RepeatPassword string
	Locale         string
}

// Session is a user together with a freshly issued token.
type Session struct {
	User  core.User
	Token string
}

// UserService registers and authenticates users and manages their
// profile.
type UserService struct {
	repo          *storage.SQLiteRepository
	hasher        *credential.Hasher
	tokens        *auth.Manager
	categories    *CategoryService
	logger        *log.Logger
	audit         *log.StructuredLogger
	defaultLocale string

	dummyMu   sync.Mutex
	dummyBlob []byte
}

func NewUserService(repo *storage.SQLiteRepository, hasher *credential.Hasher, tokens *auth.Manager, categories *CategoryService, logger *log.Logger, defaultLocale string) *UserService {
	if defaultLocale == "" {
		defaultLocale = "en"
	}
	authLogger := logger.WithComponent(log.ComponentAuth)
	return &UserService{
		repo:          repo,
		hasher:        hasher,
		tokens:        tokens,
		categories:    categories,
		logger:        authLogger,
		audit:         log.NewStructuredLogger(authLogger),
		defaultLocale: defaultLocale,
	}
}

// Register creates a user in state init together with the default
// accounts and the system category, all in one transaction.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (Session, error) {
	const scope = "auth.register"

	email := normalizeEmail(in.Email)
	if err := checkEmail(email); err != nil {
		return Session{}, core.Scoped(scope, err)
	}
	locale := strings.TrimSpace(in.Locale)
	if locale == "" {
		locale = s.defaultLocale
	}
	if err := validate.Var(locale, "bcp47_language_tag"); err != nil {
		return Session{}, core.Scoped(scope, core.Invalid("locale", core.ReasonInvalid))
	}

	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	blob, err := s.hasher.SetPassword(in.Password, in.RepeatPassword)
	if err != nil {
		return Session{}, core.Scoped(scope, err)
	}

	base := core.BaseCurrencyFor(locale)
	var user core.User
	err = s.repo.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		var err error
		user, err = q.CreateUser(ctx, core.User{
			Email:    email,
			Password: blob,
			Status:   core.UserStatusInit,
			Settings: core.Settings{Locale: locale, BaseCurrency: base},
		})
		if errors.Is(err, storage.ErrDuplicate) {
			return core.Invalid("email", core.ReasonUnique)
		}
		if err != nil {
			return err
		}
		return seedUser(ctx, q, user)
	})
	if err != nil {
		s.audit.LogAuthEvent(ctx, log.OpRegister, "", false)
		return Session{}, core.Scoped(scope, wrapStorage("register user", err))
	}

	s.audit.LogAuthEvent(ctx, log.OpRegister, user.ID, true)
	return s.session(user)
}

func seedUser(ctx context.Context, q *storage.Queries, user core.User) error {
	defaults := []core.Account{
		{User: user.ID, Name: DefaultStandardAccount, Type: core.AccountStandard, Currency: user.Settings.BaseCurrency, Order: 0},
		{User: user.ID, Name: DefaultDebtAccount, Type: core.AccountDebt, Currency: user.Settings.BaseCurrency, Order: 1},
	}
	for _, a := range defaults {
		if _, err := q.CreateAccount(ctx, a); err != nil {
			return err
		}
	}
	_, err := q.CreateCategory(ctx, core.Category{
		User:   user.ID,
		Name:   core.DefaultCategoryName,
		Type:   core.CategoryAny,
		System: true,
	})
	return err
}

// Login checks the password and issues a token. Records stored with weaker
// parameters than configured are re-encoded on success.
func (s *UserService) Login(ctx context.Context, email, password string) (Session, error) {
	const scope = "auth.login"
	invalid := core.Scoped(scope, core.Invalid("password", core.ReasonInvalid))

	email = normalizeEmail(email)
	if email == "" {
		return Session{}, core.Scoped(scope, core.Invalid("email", core.ReasonRequired))
	}
	if password == "" {
		return Session{}, core.Scoped(scope, core.Invalid("password", core.ReasonRequired))
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		// Spend the same derivation time as a real check.
		_, _ = s.hasher.VerifyContext(ctx, password, s.dummy())
		s.audit.LogAuthEvent(ctx, log.OpLogin, "", false)
		return Session{}, invalid
	}
	if err != nil {
		return Session{}, wrapStorage("load user", err)
	}

	ok, err := s.hasher.VerifyContext(ctx, password, user.Password)
	if err != nil {
		if errors.Is(err, credential.ErrMalformedCredential) {
			s.logger.ErrorContext(ctx, "Stored credential is malformed", log.FieldUserID, user.ID)
			return Session{}, invalid
		}
		return Session{}, err
	}
	if !ok {
		s.audit.LogAuthEvent(ctx, log.OpLogin, user.ID, false)
		return Session{}, invalid
	}

	s.rehash(ctx, user, password)
	s.audit.LogAuthEvent(ctx, log.OpLogin, user.ID, true)
	return s.session(user)
}

func (s *UserService) rehash(ctx context.Context, user core.User, password string) {
	stale, err := s.hasher.NeedsRehash(user.Password)
	if err != nil || !stale {
		return
	}
	blob, err := s.hasher.EncodeContext(ctx, password)
	if err == nil {
		err = s.repo.UpdateUserPassword(ctx, user.ID, blob)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "Credential rehash failed",
			log.FieldUserID, user.ID,
			log.FieldOperation, log.OpRehash,
			log.FieldError, err.Error())
		return
	}
	s.logger.InfoContext(ctx, "Credential rehashed",
		log.FieldUserID, user.ID,
		log.FieldOperation, log.OpRehash)
}

// verifyStored checks password against the user's stored credential. An
// unreadable credential is returned as an error, not as a mismatch.
func (s *UserService) verifyStored(ctx context.Context, user core.User, password string) (bool, error) {
	ok, err := s.hasher.VerifyContext(ctx, password, user.Password)
	if errors.Is(err, credential.ErrMalformedCredential) {
		s.logger.ErrorContext(ctx, "Stored credential is malformed",
			log.FieldUserID, user.ID,
			log.FieldErrorType, log.ErrorTypeInternal)
		return false, fmt.Errorf("verify credential for user %s: %w", user.ID, err)
	}
	return ok, err
}

// dummy returns a credential used to equalise timing for unknown emails.
// A failed encode is retried on the next call.
func (s *UserService) dummy() []byte {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()
	if s.dummyBlob != nil {
		return s.dummyBlob
	}
	blob, err := s.hasher.Encode("moneybook-timing-guard")
	if err != nil {
		s.logger.Warn("Timing guard credential unavailable", log.FieldError, err.Error())
		return nil
	}
	s.dummyBlob = blob
	return s.dummyBlob
}

// Profile returns the user behind a session.
func (s *UserService) Profile(ctx context.Context, userID string) (core.User, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return core.User{}, ErrUnauthorized
	}
	if err != nil {
		return core.User{}, wrapStorage("load user", err)
	}
	return user, nil
}

// SetStatus moves the user between init and ready.
func (s *UserService) SetStatus(ctx context.Context, userID string, status core.UserStatus) (core.User, error) {
	const scope = "user.status"

	if status == "" {
		return core.User{}, core.Scoped(scope, core.Invalid("status", core.ReasonRequired))
	}
	if !status.Valid() {
		return core.User{}, core.Scoped(scope, core.Invalid("status", core.ReasonInvalid))
	}
	if err := s.repo.UpdateUserStatus(ctx, userID, status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return core.User{}, ErrUnauthorized
		}
		return core.User{}, wrapStorage("update user status", err)
	}
	return s.Profile(ctx, userID)
}

// ChangePassword replaces the stored credential after checking the
// current password.
func (s *UserService) ChangePassword(ctx context.Context, userID, current, password, repeat string) error {
	const scope = "user.password"

	user, err := s.Profile(ctx, userID)
	if err != nil {
		return err
	}
	if current == "" {
		return core.Scoped(scope, core.Invalid("currentPassword", core.ReasonRequired))
	}
	ok, err := s.verifyStored(ctx, user, current)
	if err != nil {
		return err
	}
	if !ok {
		return core.Scoped(scope, core.Invalid("currentPassword", core.ReasonInvalid))
	}

	blob, err := s.hasher.SetPassword(password, repeat)
	if err != nil {
		return core.Scoped(scope, err)
	}
	if err := s.repo.UpdateUserPassword(ctx, userID, blob); err != nil {
		return wrapStorage("update password", err)
	}
	s.logger.InfoContext(ctx, "Password changed", log.FieldUserID, userID)
	return nil
}

// Remove deletes the user and everything they own in one transaction.
// Any failure rolls the whole cascade back.
func (s *UserService) Remove(ctx context.Context, userID, password string) error {
	const scope = "user.remove"

	user, err := s.Profile(ctx, userID)
	if err != nil {
		return err
	}
	if password == "" {
		return core.Scoped(scope, core.Invalid("password", core.ReasonRequired))
	}
	ok, err := s.verifyStored(ctx, user, password)
	if err != nil {
		return err
	}
	if !ok {
		return core.Scoped(scope, core.Invalid("password", core.ReasonInvalid))
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		if err := q.DeleteUserOperations(ctx, userID); err != nil {
			return err
		}
		if err := q.DeleteUserCategories(ctx, userID); err != nil {
			return err
		}
		if err := q.DeleteUserAccounts(ctx, userID); err != nil {
			return err
		}
		return q.DeleteUser(ctx, userID)
	})
	if err != nil {
		return wrapStorage("remove user", err)
	}

	if s.categories != nil {
		s.categories.Invalidate(userID)
	}
	s.logger.InfoContext(ctx, "User removed", log.FieldUserID, userID)
	return nil
}

// Authenticate resolves a session token to a user id.
func (s *UserService) Authenticate(ctx context.Context, token string) (string, error) {
	userID, err := s.tokens.Parse(token)
	if err != nil {
		return "", ErrUnauthorized
	}
	if _, err := s.Profile(ctx, userID); err != nil {
		return "", err
	}
	return userID, nil
}

func (s *UserService) session(user core.User) (Session, error) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{User: user, Token: token}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkEmail(email string) error {
	if email == "" {
		return core.Invalid("email", core.ReasonRequired)
	}
	if err := validate.Var(email, "email"); err != nil {
		return core.Invalid("email", core.ReasonInvalid)
	}
	return nil
}
