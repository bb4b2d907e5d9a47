package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/id"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// deliveryView is a delivery as the API shows it: the payload is embedded
// as JSON rather than base64.
type deliveryView struct {
	*delivery.Delivery
	Payload json.RawMessage `json:"payload"`
}

func deliveryViews(dels []*delivery.Delivery) []*deliveryView {
	out := make([]*deliveryView, len(dels))
	for i, d := range dels {
		out[i] = &deliveryView{Delivery: d, Payload: json.RawMessage(d.Payload)}
	}
	return out
}

type listDeliveriesResponse struct {
	Deliveries []*deliveryView `json:"deliveries"`
}

type attemptsResponse struct {
	Attempts []*delivery.Attempt `json:"attempts"`
}

type statsResponse struct {
	PendingDeliveries int64 `json:"pendingDeliveries"`
	InFlight          int   `json:"inFlight"`
}

func (s *Server) listDeliveries(c echo.Context) error {
	sub, err := s.ownedSubscription(c)
	if err != nil {
		return err
	}

	opts := delivery.ListOpts{}
	if opts.Limit, opts.Offset, err = pagination(c); err != nil {
		return err
	}
	if v := c.QueryParam("status"); v != "" {
		st, err := delivery.ParseStatus(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		opts.Status = &st
	}

	dels, err := s.herald.Store().ListBySubscription(c.Request().Context(), sub.ID, opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listDeliveriesResponse{Deliveries: deliveryViews(dels)})
}

func (s *Server) getDelivery(c echo.Context) error {
	d, err := s.ownedDelivery(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, deliveryViews([]*delivery.Delivery{d})[0])
}

func (s *Server) listAttempts(c echo.Context) error {
	d, err := s.ownedDelivery(c)
	if err != nil {
		return err
	}

	log := s.herald.Attempts()
	if log == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "attempt history is not recorded")
	}
	attempts, err := log.ListAttempts(c.Request().Context(), d.ID)
	if err != nil {
		return err
	}
	if attempts == nil {
		attempts = []*delivery.Attempt{}
	}
	return c.JSON(http.StatusOK, attemptsResponse{Attempts: attempts})
}

func (s *Server) replayDelivery(c echo.Context) error {
	d, err := s.ownedDelivery(c)
	if err != nil {
		return err
	}
	replay, err := s.herald.Replay(c.Request().Context(), d.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, deliveryViews([]*delivery.Delivery{replay})[0])
}

func (s *Server) stats(c echo.Context) error {
	n, err := s.herald.Store().CountPending(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statsResponse{
		PendingDeliveries: n,
		InFlight:          s.herald.Worker().Pending(),
	})
}

// ownedDelivery loads the :id delivery, answering 404 unless its
// subscription belongs to the caller.
func (s *Server) ownedDelivery(c echo.Context) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(c.Param("id"))
	if err != nil {
		return nil, herald.ErrDeliveryNotFound
	}
	ctx := c.Request().Context()
	d, err := s.herald.Store().GetDelivery(ctx, delID)
	if err != nil {
		return nil, err
	}
	sub, err := s.herald.Store().GetSubscription(ctx, d.SubscriptionID)
	if err != nil || sub.OwnerID != ownerID(c) {
		return nil, herald.ErrDeliveryNotFound
	}
	return d, nil
}

func pagination(c echo.Context) (limit, offset int, err error) {
	limit = defaultLimit
	if v := c.QueryParam("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
	}
	limit = min(limit, maxLimit)
	if v := c.QueryParam("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
