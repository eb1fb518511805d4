package service

import (
	"context"
	"fmt"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// AdminService handles admin business logic.
type AdminService struct {
	adminRepo *repository.AdminRepository
}

// NewAdminService creates a new AdminService.
func NewAdminService(adminRepo *repository.AdminRepository) *AdminService {
	return &AdminService{adminRepo: adminRepo}
}

// GetByEmail retrieves an admin by email.
func (s *AdminService) GetByEmail(ctx context.Context, email string) (*model.Admin, error) {
	return s.adminRepo.GetByEmail(ctx, email)
}

// GetByID retrieves an admin by ID.
func (s *AdminService) GetByID(ctx context.Context, id int) (*model.Admin, error) {
	return s.adminRepo.GetByID(ctx, id)
}

// Create creates a new admin. Unknown permission codes are rejected.
func (s *AdminService) Create(ctx context.Context, admin *model.Admin) error {
	if err := checkPermissionCodes(admin.Permissions); err != nil {
		return err
	}
	return s.adminRepo.Create(ctx, admin)
}

// GrantPermissions replaces an admin's permission codes.
func (s *AdminService) GrantPermissions(ctx context.Context, email string, codes []string) error {
	if err := checkPermissionCodes(codes); err != nil {
		return err
	}
	n, err := s.adminRepo.SetPermissions(ctx, email, codes)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("admin %s not found", email)
	}
	return nil
}

func checkPermissionCodes(codes []string) error {
	known := make(map[string]bool, len(model.AllPermissions))
	for _, p := range model.AllPermissions {
		known[string(p)] = true
	}
	for _, c := range codes {
		if !known[c] {
			return fmt.Errorf("unknown permission %q", c)
		}
	}
	return nil
}
