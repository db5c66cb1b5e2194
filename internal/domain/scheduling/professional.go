package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Resolver maps an identifier supplied by a caller to a professional id.
// Callers may hold either the professional's own id or the id of the user
// account behind it.
type Resolver struct {
	directory ProfessionalDirectory
}

func NewResolver(directory ProfessionalDirectory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve tries candidate as a professional id first, then as a user id.
func (r *Resolver) Resolve(ctx context.Context, candidate uuid.UUID) (uuid.UUID, error) {
	if candidate == uuid.Nil {
		return uuid.Nil, invalid("professional_id is required")
	}

	p, err := r.directory.FindByID(ctx, candidate)
	if err == nil {
		return p.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return uuid.Nil, fmt.Errorf("find professional: %w", err)
	}

	p, err = r.directory.FindByUserID(ctx, candidate)
	if err == nil {
		return p.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return uuid.Nil, fmt.Errorf("find professional by user: %w", err)
	}
	return uuid.Nil, notFound("professional", candidate)
}

// Professional returns the resolved professional record.
func (r *Resolver) Professional(ctx context.Context, candidate uuid.UUID) (*Professional, error) {
	id, err := r.Resolve(ctx, candidate)
	if err != nil {
		return nil, err
	}
	return r.directory.FindByID(ctx, id)
}
