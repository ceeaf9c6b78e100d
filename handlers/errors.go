package handlers

import (
	"net/http"

	"loyalty-engine/loyalty"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// respondError writes err as a JSON error body. Typed core errors keep their
// message; anything else is logged and hidden behind a generic 500.
func respondError(c *gin.Context, err error) {
	var le *loyalty.Error
	if errors.As(err, &le) {
		c.JSON(statusForKind(le.Kind), gin.H{"error": le.Message})
		return
	}
	zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("request failed")
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func statusForKind(k loyalty.Kind) int {
	switch k {
	case loyalty.KindValidation:
		return http.StatusBadRequest
	case loyalty.KindPolicy:
		return http.StatusUnprocessableEntity
	case loyalty.KindNotFound:
		return http.StatusNotFound
	case loyalty.KindConflict:
		return http.StatusConflict
	case loyalty.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
