package rest

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler) {
	// Health check endpoint (no version prefix)
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		v1.POST("/listings", handler.CreateListing)
		v1.GET("/listings", handler.ListListings)
		v1.GET("/listings/:id", handler.GetListing)

		v1.GET("/listings/:id/bids", handler.ListBids)
		v1.POST("/listings/:id/bids", handler.PlaceBid)

		v1.POST("/listings/:id/purchase", handler.BuyNow)
		v1.POST("/listings/:id/withdrawals", handler.WithdrawOverbid)
	}
}

// errInvalidQueryParam builds the rejection for an unparseable query value
func errInvalidQueryParam(name, value string) error {
	return fmt.Errorf("invalid %s value %q", name, value)
}
