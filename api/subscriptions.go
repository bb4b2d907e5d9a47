package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/subscription"
)

// recentDeliveries is how many deliveries a subscription detail embeds.
const recentDeliveries = 50

type createResponse struct {
	Subscription *subscription.Subscription `json:"subscription"`
	Secret       string                     `json:"secret"`
}

type detailResponse struct {
	Subscription *subscription.Subscription `json:"subscription"`
	Deliveries   []*deliveryView            `json:"deliveries"`
}

type listSubscriptionsResponse struct {
	Subscriptions []*subscription.Subscription `json:"subscriptions"`
}

type secretResponse struct {
	Secret string `json:"secret"`
}

type testResponse struct {
	Success    bool    `json:"success"`
	Message    string  `json:"message"`
	EventID    string  `json:"eventId"`
	Deliveries []id.ID `json:"deliveries"`
}

func (s *Server) createSubscription(c echo.Context) error {
	var in subscription.Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sub, err := s.herald.Subscriptions().Create(c.Request().Context(), ownerID(c), in)
	if err != nil {
		return err
	}

	// The secret is only ever returned here and by rotate-secret.
	return c.JSON(http.StatusCreated, createResponse{Subscription: sub, Secret: sub.Secret})
}

func (s *Server) listSubscriptions(c echo.Context) error {
	opts := subscription.ListOpts{}
	var err error
	if opts.Limit, opts.Offset, err = pagination(c); err != nil {
		return err
	}
	if v := c.QueryParam("active"); v != "" {
		active := v == "true"
		opts.Active = &active
	}

	subs, err := s.herald.Subscriptions().List(c.Request().Context(), ownerID(c), opts)
	if err != nil {
		return err
	}
	if subs == nil {
		subs = []*subscription.Subscription{}
	}
	return c.JSON(http.StatusOK, listSubscriptionsResponse{Subscriptions: subs})
}

func (s *Server) getSubscription(c echo.Context) error {
	sub, err := s.ownedSubscription(c)
	if err != nil {
		return err
	}

	dels, err := s.herald.Store().ListBySubscription(c.Request().Context(), sub.ID,
		delivery.ListOpts{Limit: recentDeliveries})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detailResponse{Subscription: sub, Deliveries: deliveryViews(dels)})
}

func (s *Server) updateSubscription(c echo.Context) error {
	sub, err := s.ownedSubscription(c)
	if err != nil {
		return err
	}

	var p subscription.Patch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	updated, err := s.herald.Subscriptions().Update(c.Request().Context(), sub.ID, p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteSubscription(c echo.Context) error {
	sub, err := s.ownedSubscription(c)
	if err != nil {
		return err
	}
	if err := s.herald.Subscriptions().Delete(c.Request().Context(), sub.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) rotateSecret(c echo.Context) error {
	sub, err := s.ownedSubscription(c)
	if err != nil {
		return err
	}
	secret, err := s.herald.Subscriptions().RotateSecret(c.Request().Context(), sub.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, secretResponse{Secret: secret})
}

// testSubscription emits a test event to every matching subscription of
// the owner, not only the one in the path.
func (s *Server) testSubscription(c echo.Context) error {
	if _, err := s.ownedSubscription(c); err != nil {
		return err
	}

	em, err := s.herald.SendTest(c.Request().Context(), ownerID(c))
	if em == nil {
		return err
	}
	if err != nil {
		s.logger.WarnContext(c.Request().Context(), "test event partially emitted", "error", err)
	}

	dels := em.Deliveries
	if dels == nil {
		dels = []id.ID{}
	}
	return c.JSON(http.StatusOK, testResponse{
		Success:    true,
		Message:    "Test event emitted",
		EventID:    em.EventID.String(),
		Deliveries: dels,
	})
}

// ownedSubscription loads the :id subscription and hides other owners'.
func (s *Server) ownedSubscription(c echo.Context) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(c.Param("id"))
	if err != nil {
		return nil, herald.ErrSubscriptionNotFound
	}
	sub, err := s.herald.Subscriptions().Get(c.Request().Context(), subID)
	if err != nil {
		return nil, err
	}
	if sub.OwnerID != ownerID(c) {
		return nil, herald.ErrSubscriptionNotFound
	}
	return sub, nil
}
