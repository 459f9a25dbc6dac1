package service

import (
	"context"

	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// ProctorService handles proctor account logic.
type ProctorService struct {
	proctorRepo *repository.ProctorRepository
}

// NewProctorService creates a new ProctorService.
func NewProctorService(proctorRepo *repository.ProctorRepository) *ProctorService {
	return &ProctorService{proctorRepo: proctorRepo}
}

// GetByEmail retrieves a proctor by email (for login).
func (s *ProctorService) GetByEmail(ctx context.Context, email string) (*model.Proctor, error) {
	return s.proctorRepo.GetByEmail(ctx, email)
}

// GetByID retrieves a proctor by ID.
func (s *ProctorService) GetByID(ctx context.Context, id int) (*model.Proctor, error) {
	return s.proctorRepo.GetByID(ctx, id)
}

// Create inserts a new proctor.
func (s *ProctorService) Create(ctx context.Context, p *model.Proctor) error {
	return s.proctorRepo.Create(ctx, p)
}
