package handler

import (
	"strconv"

	"salvage-settlement/internal/adapter/http/dto"
	"salvage-settlement/internal/adapter/http/middleware"
	"salvage-settlement/internal/core/domain"
	"salvage-settlement/pkg/apperror"
	"salvage-settlement/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// actor returns the authenticated caller or writes a 401.
func actor(c *gin.Context) (domain.Actor, bool) {
	a, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return domain.Actor{}, false
	}
	return a, true
}

// idParam parses a UUID path parameter or writes a 400.
func idParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Error(c, apperror.Validation(name+" must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

// bind decodes and validates the JSON body, then sanitizes its strings.
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return false
	}
	dto.SanitizeStruct(req)
	return true
}

// amount converts a bound amount string to minor units or writes a 400.
func amount(c *gin.Context, s string) (int64, bool) {
	v, err := dto.MinorUnits(s)
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return 0, false
	}
	return v, true
}

// pagination reads limit/offset query parameters with sane bounds.
func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func isStaff(a domain.Actor) bool {
	return a.Type == domain.ActorAdmin || a.Type == domain.ActorFinance
}
