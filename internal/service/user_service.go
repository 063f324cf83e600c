package service

import (
	"context"
	"strings"
	"time"

	"huddle/internal/auth"
	"huddle/internal/models"
	"huddle/internal/repository"
	"huddle/internal/validation"
)

// UserService owns account creation, credential checks and profile edits.
type UserService struct {
	userRepo repository.UserRepository
	now      func() time.Time
}

type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// UpdateProfileInput carries optional fields; nil leaves a field unchanged.
type UpdateProfileInput struct {
	UserID    uint
	FirstName *string
	LastName  *string
	Bio       *string
	Avatar    *string
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo, now: time.Now}
}

func (s *UserService) SetClock(now func() time.Time) { s.now = now }

func (s *UserService) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// Register creates a pending account. It stays unusable until approved.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	if err := validation.ValidateUsername(in.Username); err != nil {
		return nil, models.NewFieldValidationError("username", err.Error())
	}
	if err := validation.ValidateEmail(in.Email); err != nil {
		return nil, models.NewFieldValidationError("email", err.Error())
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, models.NewFieldValidationError("password", err.Error())
	}
	if err := validation.ValidateName(in.FirstName); err != nil {
		return nil, models.NewFieldValidationError("first_name", err.Error())
	}
	if err := validation.ValidateName(in.LastName); err != nil {
		return nil, models.NewFieldValidationError("last_name", err.Error())
	}

	if existing, err := s.userRepo.GetByEmail(ctx, in.Email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, models.NewConflictError("User already exists")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Username:  in.Username,
		Email:     in.Email,
		Password:  hash,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Status:    models.StatusPending,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login resolves a username or email and checks the password before the
// account state, so a wrong password never reveals that an account is banned.
func (s *UserService) Login(ctx context.Context, login, password string) (*models.User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, models.NewValidationError("Username and password are required")
	}
	user, err := s.userRepo.GetByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	if user == nil || !auth.CheckPassword(user.Password, password) {
		return nil, models.NewUnauthorizedError("Invalid credentials")
	}
	if err := auth.AccountDenial(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, in UpdateProfileInput) (*models.User, error) {
	fields := map[string]interface{}{}
	if in.FirstName != nil {
		if err := validation.ValidateName(*in.FirstName); err != nil {
			return nil, models.NewFieldValidationError("first_name", err.Error())
		}
		fields["first_name"] = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		if err := validation.ValidateName(*in.LastName); err != nil {
			return nil, models.NewFieldValidationError("last_name", err.Error())
		}
		fields["last_name"] = strings.TrimSpace(*in.LastName)
	}
	if in.Bio != nil {
		if err := validation.ValidateBio(*in.Bio); err != nil {
			return nil, models.NewFieldValidationError("bio", err.Error())
		}
		fields["bio"] = *in.Bio
	}
	if in.Avatar != nil {
		if *in.Avatar != "" && !IsRelativeRef(*in.Avatar) {
			return nil, models.NewFieldValidationError("avatar", "Avatar must be a relative media path")
		}
		fields["avatar"] = *in.Avatar
	}

	if len(fields) > 0 {
		fields["updated_at"] = s.now().UTC()
		if err := s.userRepo.UpdateProfile(ctx, in.UserID, fields); err != nil {
			return nil, err
		}
	}
	return s.userRepo.GetByID(ctx, in.UserID)
}
