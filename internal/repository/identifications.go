package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/wildid/wildid-server/internal/models"
)

// PostgresIdentificationRepository implements IdentificationRepository.
type PostgresIdentificationRepository struct {
	db *sql.DB
}

func NewPostgresIdentificationRepository(db *sql.DB) *PostgresIdentificationRepository {
	return &PostgresIdentificationRepository{db: db}
}

const identificationColumns = `id, user_id, created_at, species, common_name, animal_type,
		conservation_status, confidence, description, notes, image_data, image_mime,
		result_json, user_feedback, feedback_comment, feedback_at`

func (r *PostgresIdentificationRepository) Create(ctx context.Context, i *models.Identification) error {
	query := `
		INSERT INTO identifications (id, user_id, created_at, species, common_name, animal_type,
			conservation_status, confidence, description, notes, image_data, image_mime, result_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	var result any
	if len(i.ResultJSON) > 0 {
		result = []byte(i.ResultJSON)
	}
	_, err := r.db.ExecContext(ctx, query,
		i.ID, i.UserID, i.CreatedAt, i.Species, i.CommonName, i.AnimalType,
		i.ConservationStatus, i.Confidence, i.Description, i.Notes, i.ImageData, i.ImageMime, result,
	)
	return errors.Wrap(err, "repository.Identification.Create")
}

// ListByUser returns the newest identifications first.
func (r *PostgresIdentificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Identification, error) {
	query := `SELECT ` + identificationColumns + `
		FROM identifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "repository.Identification.ListByUser")
	}
	defer rows.Close()

	out := []models.Identification{}
	for rows.Next() {
		i, err := scanIdentification(rows)
		if err != nil {
			return nil, errors.Wrap(err, "repository.Identification.ListByUser.Scan")
		}
		out = append(out, *i)
	}
	return out, errors.Wrap(rows.Err(), "repository.Identification.ListByUser.Rows")
}

func (r *PostgresIdentificationRepository) Get(ctx context.Context, id, userID uuid.UUID) (*models.Identification, error) {
	query := `SELECT ` + identificationColumns + `
		FROM identifications
		WHERE id = $1 AND user_id = $2`
	i, err := scanIdentification(r.db.QueryRowContext(ctx, query, id, userID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "repository.Identification.Get")
	}
	return i, nil
}

func (r *PostgresIdentificationRepository) SetFeedback(ctx context.Context, id, userID uuid.UUID, feedback, comment string, at time.Time) error {
	query := `
		UPDATE identifications
		SET user_feedback = $3, feedback_comment = NULLIF($4, ''), feedback_at = $5
		WHERE id = $1 AND user_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, userID, feedback, comment, at)
	if err != nil {
		return errors.Wrap(err, "repository.Identification.SetFeedback")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "repository.Identification.SetFeedback.RowsAffected")
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentification(s scanner) (*models.Identification, error) {
	i := &models.Identification{}
	var (
		result          []byte
		feedback        sql.NullString
		feedbackComment sql.NullString
		feedbackAt      sql.NullTime
	)
	err := s.Scan(
		&i.ID, &i.UserID, &i.CreatedAt, &i.Species, &i.CommonName, &i.AnimalType,
		&i.ConservationStatus, &i.Confidence, &i.Description, &i.Notes, &i.ImageData, &i.ImageMime,
		&result, &feedback, &feedbackComment, &feedbackAt,
	)
	if err != nil {
		return nil, err
	}
	if len(result) > 0 {
		i.ResultJSON = result
	}
	if feedback.Valid {
		i.UserFeedback = &feedback.String
	}
	if feedbackComment.Valid {
		i.FeedbackComment = &feedbackComment.String
	}
	if feedbackAt.Valid {
		i.FeedbackAt = &feedbackAt.Time
	}
	return i, nil
}
