package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/euskalmet-poller/internal/store"
	"github.com/i474232898/euskalmet-poller/internal/weather"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *weather.Service) {
	v1 := app.Group("/api/v1")

	v1.Get("/subjects", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"subjects": service.Subjects()})
	})

	v1.Get("/subjects/:id/snapshot", func(c *fiber.Ctx) error {
		snapshot, err := service.GetLatest(c.Params("id"))
		if err != nil {
			return lookupError(err, "no snapshot for requested subject")
		}
		return c.JSON(snapshot)
	})

	v1.Get("/subjects/:id/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		snapshots, err := service.GetRange(req.SubjectID, req.From, req.To)
		if err != nil {
			return lookupError(err, "no snapshots for requested range")
		}

		return c.JSON(fiber.Map{
			"subjectId": req.SubjectID,
			"from":      req.From,
			"to":        req.To,
			"snapshots": snapshots,
		})
	})

	v1.Get("/subjects/:id/forecast", func(c *fiber.Ctx) error {
		block, err := service.GetForecast(c.Params("id"))
		if err != nil {
			return lookupError(err, "no forecast for requested subject")
		}
		return c.JSON(block)
	})

	v1.Post("/subjects/:id/rediscover", func(c *fiber.Ctx) error {
		if err := service.Rediscover(c.Params("id")); err != nil {
			return lookupError(err, "")
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	v1.Get("/catalog/stations", func(c *fiber.Ctx) error {
		catalog, err := catalogFor(c, service)
		if err != nil {
			return err
		}
		stations, err := catalog.ListSubjects(c.UserContext())
		if err != nil {
			return upstreamError(err)
		}
		return c.JSON(fiber.Map{"stations": stations})
	})

	v1.Get("/catalog/hierarchy", func(c *fiber.Ctx) error {
		catalog, err := catalogFor(c, service)
		if err != nil {
			return err
		}
		hierarchy, err := catalog.ListHierarchy(c.UserContext())
		if err != nil {
			return upstreamError(err)
		}
		return c.JSON(hierarchy)
	})
}

// catalogFor returns the catalog. With ?refresh=true both lists are fetched
// again first; a failed refresh leaves the cached lists in place.
func catalogFor(c *fiber.Ctx, service *weather.Service) (*weather.Catalog, error) {
	catalog := service.Catalog()
	if catalog == nil {
		return nil, fiber.NewError(fiber.StatusServiceUnavailable, "catalog not configured")
	}
	if c.QueryBool("refresh") {
		if err := catalog.Refresh(c.UserContext()); err != nil {
			return nil, upstreamError(err)
		}
	}
	return catalog, nil
}

func lookupError(err error, notFound string) error {
	switch {
	case errors.Is(err, weather.ErrUnknownSubject):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, weather.ErrSubjectUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, notFound)
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "failed to read weather data")
	}
}

func upstreamError(err error) error {
	if weather.IsCredentialError(err) || weather.Classify(err) == weather.OutcomeAuthFailure {
		return fiber.NewError(fiber.StatusBadGateway, "upstream rejected the credential")
	}
	return fiber.NewError(fiber.StatusBadGateway, "failed to load catalog from upstream")
}

// historyQuery holds parameters for the history endpoint.
type historyQuery struct {
	SubjectID string    `validate:"required"`
	From      time.Time `validate:"required"`
	To        time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	h.SubjectID = c.Params("id")

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
