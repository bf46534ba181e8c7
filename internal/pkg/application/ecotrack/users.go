package ecotrack

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/tracing"
	"github.com/diwise/ecotrack/pkg/types"
	"github.com/samber/lo"
	"golang.org/x/crypto/bcrypt"
)

// bcrypt only considers the first 72 bytes of a password
const maxPasswordBytes = 72

func hashPassword(password string) (string, error) {
	b := []byte(password)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}

	hashed, err := bcrypt.GenerateFromPassword(b, bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hashed), nil
}

func verifyPassword(password, hashed string) bool {
	b := []byte(password)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), b) == nil
}

func (a *app) Register(ctx context.Context, u types.UserCreate) (user types.User, err error) {
	ctx, span := tracer.Start(ctx, "register")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	return a.createUser(ctx, u, types.RoleUser)
}

func (a *app) createUser(ctx context.Context, u types.UserCreate, role types.Role) (types.User, error) {
	u.Username = strings.TrimSpace(u.Username)
	u.Email = strings.TrimSpace(u.Email)

	if u.Username == "" {
		return types.User{}, invalid("username is required")
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return types.User{}, invalid("invalid email address")
	}
	if u.Password == "" {
		return types.User{}, invalid("password is required")
	}

	if _, err := a.store.GetUserByUsername(ctx, u.Username); err == nil {
		return types.User{}, fmt.Errorf("%w: username already registered", ErrAlreadyExists)
	}
	if _, err := a.store.GetUserByEmail(ctx, u.Email); err == nil {
		return types.User{}, fmt.Errorf("%w: email already registered", ErrAlreadyExists)
	}

	hashed, err := hashPassword(u.Password)
	if err != nil {
		return types.User{}, err
	}

	dbUser := &database.User{
		Email:          u.Email,
		Username:       u.Username,
		HashedPassword: hashed,
		Role:           string(role),
		IsActive:       true,
	}

	if err := a.store.CreateUser(ctx, dbUser); err != nil {
		return types.User{}, mapErr(err)
	}

	log := logging.GetFromContext(ctx)
	log.Info().Str("username", u.Username).Str("role", string(role)).Msg("user registered")

	return toUser(*dbUser), nil
}

func (a *app) Authenticate(ctx context.Context, username, password string) (user types.User, err error) {
	ctx, span := tracer.Start(ctx, "authenticate")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	u, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}

	if !verifyPassword(password, u.HashedPassword) {
		return types.User{}, ErrInvalidCredentials
	}

	if !u.IsActive {
		return types.User{}, ErrInactiveUser
	}

	return toUser(u), nil
}

// EnsureAdmin creates an administrator unless a user with the same username exists.
func (a *app) EnsureAdmin(ctx context.Context, username, email, password string) error {
	log := logging.GetFromContext(ctx)

	if _, err := a.store.GetUserByUsername(ctx, username); err == nil {
		log.Debug().Str("username", username).Msg("admin user already exists")
		return nil
	}

	_, err := a.createUser(ctx, types.UserCreate{Username: username, Email: email, Password: password}, types.RoleAdmin)
	return err
}

func (a *app) GetUser(ctx context.Context, id int) (types.User, error) {
	u, err := a.store.GetUserByID(ctx, id)
	if err != nil {
		return types.User{}, mapErr(err)
	}
	return toUser(u), nil
}

func (a *app) GetUserByUsername(ctx context.Context, username string) (types.User, error) {
	u, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		return types.User{}, mapErr(err)
	}
	return toUser(u), nil
}

func (a *app) ListUsers(ctx context.Context, params map[string][]string) ([]types.User, error) {
	users, err := a.store.ListUsers(ctx, database.ParseConditions(ctx, params)...)
	if err != nil {
		return nil, err
	}

	return lo.Map(users, func(u database.User, _ int) types.User {
		return toUser(u)
	}), nil
}

func (a *app) UpdateUser(ctx context.Context, id int, update types.UserUpdate) (user types.User, err error) {
	ctx, span := tracer.Start(ctx, "update-user")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	u, err := a.store.GetUserByID(ctx, id)
	if err != nil {
		return types.User{}, mapErr(err)
	}

	if update.Email != nil {
		if _, err := mail.ParseAddress(*update.Email); err != nil {
			return types.User{}, invalid("invalid email address")
		}
		u.Email = *update.Email
	}
	if update.Username != nil {
		if strings.TrimSpace(*update.Username) == "" {
			return types.User{}, invalid("username is required")
		}
		u.Username = strings.TrimSpace(*update.Username)
	}
	if update.Role != nil {
		if !update.Role.Valid() {
			return types.User{}, invalid("unknown role %q", *update.Role)
		}
		u.Role = string(*update.Role)
	}
	if update.IsActive != nil {
		u.IsActive = *update.IsActive
	}

	if err := a.store.SaveUser(ctx, &u); err != nil {
		return types.User{}, mapErr(err)
	}

	return toUser(u), nil
}

func (a *app) DeleteUser(ctx context.Context, id int) error {
	return mapErr(a.store.DeleteUser(ctx, id))
}
