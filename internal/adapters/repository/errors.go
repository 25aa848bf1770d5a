package repository

import (
	"fmt"

	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/projection"
)

// Sentinel kinds for standings errors.
var (
	ErrNotFound     = fmt.Errorf("%w: player not ranked", model.ErrNotFound)
	ErrInvalidLimit = projection.ErrInvalidLimit
)
