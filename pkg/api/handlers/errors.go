package handlers

import "github.com/gofiber/fiber/v3"

// ErrCampaignNotFound is returned when a campaign is not in the store
var ErrCampaignNotFound = fiber.NewError(fiber.StatusNotFound, "campaign not found")

// ErrAllocationNotFound is returned when a campaign has not been allocated yet
var ErrAllocationNotFound = fiber.NewError(fiber.StatusNotFound, "campaign has no allocation yet")

// ErrCampaignIDMismatch is returned when the body names a different campaign than the path
var ErrCampaignIDMismatch = fiber.NewError(fiber.StatusBadRequest, "campaign id in body does not match path")
