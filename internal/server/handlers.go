package server

import (
	"errors"
	"net/http"

	"formdeploy/internal/browser"
	"formdeploy/internal/config"
	"formdeploy/internal/logging"
	"formdeploy/internal/message"
	"formdeploy/internal/relay"

	"github.com/labstack/echo/v4"
)

func (s *Server) health(c echo.Context) error {
	status := map[string]string{"status": "ok"}
	if s.browser != nil {
		status["browser"] = "disconnected"
		if s.browser.IsConnected() {
			status["browser"] = "connected"
		}
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) tabs(c echo.Context) error {
	if s.browser == nil {
		return c.JSON(http.StatusServiceUnavailable, message.Fail("no browser"))
	}
	return c.JSON(http.StatusOK, s.browser.List())
}

// postMessage relays an external message to the coordinator. External
// senders have no tab.
func (s *Server) postMessage(c echo.Context) error {
	var msg message.Message
	if err := c.Bind(&msg); err != nil {
		return c.JSON(http.StatusBadRequest, message.Fail("invalid message: "+err.Error()))
	}
	if err := msg.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, message.Fail(err.Error()))
	}
	logging.ServerDebug("External %s for form %q", msg.Type, msg.FormID)
	return s.send(c, msg)
}

func (s *Server) deployment(c echo.Context) error {
	return s.send(c, message.Message{Type: message.TypeGetDeploymentData})
}

func (s *Server) send(c echo.Context, msg message.Message) error {
	resp, err := s.relay.SendToBackground(c.Request().Context(), message.Sender{}, msg)
	if err != nil {
		logging.ServerWarn("Relaying %s failed: %v", msg.Type, err)
		return c.JSON(relayStatus(err), message.Fail(err.Error()))
	}
	return c.JSON(http.StatusOK, resp)
}

func relayStatus(err error) int {
	switch {
	case errors.Is(err, relay.ErrNoReceiver), errors.Is(err, relay.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, relay.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) getOptions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.options.Current())
}

// putOptions merges the body over the current options, so omitted keys
// keep their values.
func (s *Server) putOptions(c echo.Context) error {
	opts := s.options.Current()
	if err := c.Bind(&opts); err != nil {
		return c.JSON(http.StatusBadRequest, message.Fail("invalid options: "+err.Error()))
	}
	saved, err := s.options.Update(opts)
	if err != nil {
		logging.ServerError("Saving options failed: %v", err)
		return c.JSON(http.StatusInternalServerError, message.Fail(err.Error()))
	}
	return c.JSON(http.StatusOK, saved)
}

func (s *Server) resetOptions(c echo.Context) error {
	opts, err := s.options.Reset()
	if err != nil {
		logging.ServerError("Resetting options failed: %v", err)
		return c.JSON(http.StatusInternalServerError, message.Fail(err.Error()))
	}
	return c.JSON(http.StatusOK, opts)
}

var (
	_ OptionsStore = (*config.OptionsWatcher)(nil)
	_ Browser      = (*browser.TabManager)(nil)
)
