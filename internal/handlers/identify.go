package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/wildid/wildid-server/internal/auth"
	"github.com/wildid/wildid-server/internal/classifier"
	"github.com/wildid/wildid-server/internal/events"
	"github.com/wildid/wildid-server/internal/metrics"
	"github.com/wildid/wildid-server/internal/middleware"
	"github.com/wildid/wildid-server/internal/models"
	"github.com/wildid/wildid-server/internal/repository"
	"github.com/wildid/wildid-server/internal/trust"
	"github.com/wildid/wildid-server/internal/upload"
	appErrors "github.com/wildid/wildid-server/pkg/errors"
)

// IdentifyHandler runs uploads through the trust gate, the upload pipeline
// and the classifier.
type IdentifyHandler struct {
	trust       *trust.Service
	uploads     *upload.Pipeline
	classifiers *classifier.Set
	history     repository.IdentificationRepository
	events      events.Publisher
	metrics     *metrics.Metrics
	log         zerolog.Logger

	storeImages bool
	maxMemory   int64
	now         func() time.Time
}

type IdentifyConfig struct {
	StoreImages bool
	MaxMemory   int64
}

func NewIdentifyHandler(
	trustSvc *trust.Service,
	uploads *upload.Pipeline,
	classifiers *classifier.Set,
	history repository.IdentificationRepository,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg IdentifyConfig,
	log zerolog.Logger,
) *IdentifyHandler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if cfg.MaxMemory <= 0 {
		cfg.MaxMemory = 32 << 20
	}
	return &IdentifyHandler{
		trust:       trustSvc,
		uploads:     uploads,
		classifiers: classifiers,
		history:     history,
		events:      publisher,
		metrics:     m,
		log:         log,
		storeImages: cfg.StoreImages,
		maxMemory:   cfg.MaxMemory,
		now:         time.Now,
	}
}

func (h *IdentifyHandler) Identify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state := stateFrom(r)

	if err := r.ParseMultipartForm(h.maxMemory); err != nil {
		if !middleware.IsBodyTooLarge(err) {
			err = appErrors.ErrNoFile
		}
		writeError(w, h.log, err)
		return
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		file, header, err = r.FormFile("image")
	}
	if err != nil {
		writeError(w, h.log, appErrors.ErrNoFile)
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, h.log, appErrors.ErrNoFile)
		return
	}

	// Only requests that carry a file are counted.
	rec, decision, err := h.trust.Admit(ctx, state.Key(), state.Fingerprint, trust.ActionIdentify)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.metrics.Admission(decision.Allowed)
	if !decision.Allowed {
		writeJSON(w, http.StatusTooManyRequests, models.CaptchaRequiredResponse{
			Error:           decision.Reason,
			Message:         appErrors.ErrCaptchaRequired.Error(),
			CaptchaRequired: true,
			Status:          h.trust.ToStatus(rec, state.CSRFToken),
		})
		return
	}

	provider := r.FormValue("api")
	userID, loggedIn := auth.UserID(ctx)

	var (
		result *models.Classification
		stored *models.Identification
	)
	err = h.uploads.Process(ctx, header.Filename, file, func(ctx context.Context, f *upload.File) error {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return errors.Wrap(err, "handlers.Identify.ReadFile")
		}
		result, err = h.classifiers.Identify(ctx, provider, data, f.MIMEType())
		if err != nil {
			return err
		}
		if loggedIn {
			stored = h.record(ctx, userID, result, data, f.MIMEType())
		}
		return nil
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	resp := models.IdentifyResponse{Classification: *result}
	if stored != nil {
		resp.IdentificationID = &stored.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// record stores result for the user and announces it. Failures are logged;
// the caller still gets the classification.
func (h *IdentifyHandler) record(ctx context.Context, userID uuid.UUID, result *models.Classification, image []byte, mimeType string) *models.Identification {
	raw, err := json.Marshal(result)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal classification")
		return nil
	}

	ident := &models.Identification{
		ID:                 uuid.New(),
		UserID:             userID,
		CreatedAt:          h.now().UTC(),
		Species:            result.Species,
		CommonName:         result.CommonName,
		AnimalType:         result.AnimalType,
		ConservationStatus: result.ConservationStatus,
		Confidence:         result.Confidence,
		Description:        result.Description,
		Notes:              result.Notes,
		ResultJSON:         raw,
	}
	if h.storeImages {
		ident.ImageData = base64.StdEncoding.EncodeToString(image)
		ident.ImageMime = mimeType
	}

	if err := h.history.Create(ctx, ident); err != nil {
		h.log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to save identification")
		return nil
	}

	ev := models.IdentificationEvent{
		IdentificationID: ident.ID,
		UserID:           userID,
		Species:          ident.Species,
		AnimalType:       ident.AnimalType,
		Confidence:       ident.Confidence,
		CreatedAt:        ident.CreatedAt,
	}
	if err := h.events.IdentificationCreated(ctx, ev); err != nil {
		h.log.Warn().Err(err).Str("identification_id", ident.ID.String()).Msg("failed to publish identification event")
	}
	return ident
}
