package server

import (
	"errors"
	"net/http"
	"strconv"

	"cove-observer/src/helpers"
	"cove-observer/src/models"
	"cove-observer/src/network"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------

// respondError maps the error taxonomy onto HTTP status codes
func respondError(c *gin.Context, err error) {
	err = helpers.ClassifyUserError(err)
	if ue, ok := helpers.AsUserError(err); ok {
		c.JSON(userErrorStatus(ue), gin.H{"error": ue.Message, "code": ue.Code})
		return
	}

	var reqErr *helpers.RequestError
	if errors.As(err, &reqErr) {
		status := http.StatusBadGateway
		switch reqErr.Kind {
		case helpers.NotConnected:
			status = http.StatusServiceUnavailable
		case helpers.Timeout:
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{"error": reqErr.Error(), "kind": reqErr.Kind, "code": reqErr.Code})
		return
	}

	var httpErr *network.HTTPStatusError
	if errors.As(err, &httpErr) {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func userErrorStatus(ue *helpers.UserError) int {
	switch ue {
	case helpers.ErrUnknownSource:
		return http.StatusNotFound
	case helpers.ErrFundingInProgress:
		return http.StatusConflict
	case helpers.ErrFaucetUnavailable, helpers.ErrInsufficientBalance:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

// -----------------------------------------------------------------------------

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// -----------------------------------------------------------------------------

// balanceView adds the XRP amount as a decimal string next to the drops
func balanceView(b models.MAccountBalance) gin.H {
	return gin.H{
		"address":      b.Address,
		"amount_drops": b.AmountMinorUnits,
		"amount_xrp":   b.Amount().String(),
		"is_activated": b.IsActivated,
		"updated_at":   b.UpdatedAt,
	}
}
