package api

import (
	"errors"
	"net/http"
	"strconv"

	"whatsapp-crm/internal/sequence"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, log logrus.FieldLogger, err error) {
	var many sequence.ValidationErrors
	var one *sequence.ValidationError
	switch {
	case errors.As(err, &many):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": fieldErrors(many)})
	case errors.As(err, &one):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": fieldErrors(sequence.ValidationErrors{one})})
	case errors.Is(err, sequence.ErrStepNotFound),
		errors.Is(err, sequence.ErrSequenceNotFound),
		errors.Is(err, sequence.ErrContactNotFound),
		errors.Is(err, sequence.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, sequence.ErrSequenceInUse),
		errors.Is(err, sequence.ErrLeaseHeld),
		errors.Is(err, sequence.ErrStalePosition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func fieldErrors(errs sequence.ValidationErrors) []gin.H {
	out := make([]gin.H, 0, len(errs))
	for _, e := range errs {
		out = append(out, gin.H{"field": e.Field, "message": e.Message})
	}
	return out
}

// paramID reads a numeric path parameter, answering 400 when it is not one.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func queryUint(c *gin.Context, name string) uint {
	v, err := strconv.ParseUint(c.Query(name), 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}
