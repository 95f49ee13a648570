package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/wildid/wildid-server/internal/models"
	appErrors "github.com/wildid/wildid-server/pkg/errors"
)

func writeError(w http.ResponseWriter, err *appErrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(models.ErrorResponse{Error: string(err.Code), Message: err.Message})
}

func mustApp(err error) *appErrors.AppError {
	appErr, _ := appErrors.As(err)
	return appErr
}
