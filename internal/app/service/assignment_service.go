package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"aca_backend/internal/common"
	"aca_backend/internal/domain/model"
	"aca_backend/internal/domain/repository"

	"github.com/gosimple/slug"
)

// DefaultAssignments are created on startup when the catalog is empty.
var DefaultAssignments = []model.Assignment{
	{Slug: "fizzbuzz", Title: "FizzBuzz", Language: "python"},
	{Slug: "csv-stats", Title: "CSV Statistics", Language: "python"},
	{Slug: "vector2d", Title: "2D Vector Operations", Language: "python"},
}

type AssignmentService struct {
	assignmentRepo repository.AssignmentRepository
}

func NewAssignmentService(assignmentRepo repository.AssignmentRepository) *AssignmentService {
	return &AssignmentService{assignmentRepo: assignmentRepo}
}

func (s *AssignmentService) ListAssignments(ctx context.Context) ([]model.Assignment, error) {
	assignments, err := s.assignmentRepo.ListAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return assignments, nil
}

func (s *AssignmentService) GetAssignment(ctx context.Context, id int64) (*model.Assignment, error) {
	a, err := s.assignmentRepo.FindAssignmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewClientError(common.ErrNotFound, "Assignment not found")
		}
		return nil, fmt.Errorf("failed to get assignment %d: %w", id, err)
	}
	return a, nil
}

// SeedDefaults fills an empty catalog and returns how many assignments it created.
func (s *AssignmentService) SeedDefaults(ctx context.Context) (int, error) {
	existing, err := s.assignmentRepo.ListAssignments(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list assignments: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	created := 0
	for _, def := range DefaultAssignments {
		a := def
		a.Slug = slug.Make(a.Slug)
		if err := s.assignmentRepo.CreateAssignment(ctx, &a); err != nil {
			if errors.Is(err, common.ErrConflict) {
				continue
			}
			return created, fmt.Errorf("failed to seed assignment %s: %w", a.Slug, err)
		}
		created++
	}
	log.Printf("INFO: seeded %d default assignments", created)
	return created, nil
}
