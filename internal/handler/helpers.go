package handler

import (
	"errors"
	"net/http"
	"reflect"

	"pdv/internal/apierror"
	"pdv/internal/domainerr"
	"pdv/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func init() {
	// Register decimal.Decimal as a numeric type so that validator tags like
	// min=0, gt=0, required work without panicking ("Bad field type decimal.Decimal").
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if v, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := v.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

// bindAndValidate binds JSON body and runs go-playground/validator tags.
// Returns false and writes the error response if validation fails;
// the caller should return immediately without writing another response.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("BAD_REQUEST", "invalid JSON: "+err.Error()))
		return false
	}
	return validateRequest(c, req)
}

// bindQuery is bindAndValidate for query strings.
func bindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("BAD_REQUEST", "invalid query: "+err.Error()))
		return false
	}
	return validateRequest(c, req)
}

func validateRequest(c *gin.Context, req interface{}) bool {
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, apierror.New("BAD_REQUEST", err.Error()))
			return false
		}
		fields := make(map[string]string)
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(fields))
		return false
	}
	return true
}

// uuidParam parses a path parameter, answering 400 when malformed.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("BAD_REQUEST", "invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

func optionalUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}

// statusOf maps a domain error category to its HTTP status.
func statusOf(cat domainerr.Category) int {
	switch cat {
	case domainerr.Validation:
		return http.StatusUnprocessableEntity
	case domainerr.NotFound:
		return http.StatusNotFound
	case domainerr.Conflict, domainerr.Integrity:
		return http.StatusConflict
	case domainerr.External:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the domain error envelope. Internal errors are
// logged and replaced by a generic message.
func writeError(c *gin.Context, err error) {
	cat := domainerr.CategoryOf(err)
	if cat == domainerr.Internal {
		log.Error().
			Str("request_id", c.GetString(middleware.RequestIDKey)).
			Str("path", c.FullPath()).
			Err(err).
			Msg("http: internal error")
		c.JSON(http.StatusInternalServerError, apierror.New("INTERNAL", "internal server error"))
		return
	}
	c.JSON(statusOf(cat), apierror.New(domainerr.CodeOf(err), err.Error()))
}
