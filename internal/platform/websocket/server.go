package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medconnect/medconnect/internal/platform/apperr"
	"github.com/medconnect/medconnect/internal/platform/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBufferSize = 256
)

// Authenticator resolves a handshake token to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
}

// Dispatcher handles one inbound event. Events from a single connection are
// dispatched one at a time, in arrival order.
type Dispatcher func(ctx context.Context, c *Client, env Envelope)

// ServerConfig configures the upgrade endpoint.
type ServerConfig struct {
	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string
}

// Server upgrades authenticated HTTP requests to sockets and runs their
// pumps.
type Server struct {
	hub      *Hub
	authn    Authenticator
	dispatch Dispatcher
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

func NewServer(hub *Hub, authn Authenticator, dispatch Dispatcher, cfg ServerConfig, logger zerolog.Logger) *Server {
	return &Server{
		hub:      hub,
		authn:    authn,
		dispatch: dispatch,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger: logger,
	}
}

// RegisterRoutes registers the socket endpoint.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", s.HandleConnect)
}

// HandleConnect authenticates the handshake, upgrades, joins the caller's
// personal room and serves the connection until it closes. Unauthenticated
// requests are refused before the upgrade.
func (s *Server) HandleConnect(c echo.Context) error {
	req := c.Request()
	p, err := s.authn.Authenticate(req.Context(), auth.TokenFromRequest(req))
	if err != nil {
		evt := s.logger.Warn()
		if !apperr.IsKind(err, apperr.KindAuthentication) {
			evt = s.logger.Error()
		}
		evt.Err(err).Str("remote_ip", c.RealIP()).Msg("socket authentication failed")
		return c.JSON(http.StatusUnauthorized, ErrorPayload{Message: "Authentication error"})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		// the upgrader has already written an error response
		s.logger.Debug().Err(err).Msg("socket upgrade failed")
		return nil
	}

	client := NewClient(s.hub, p.UserID, sendBufferSize)
	if !s.hub.Register(client) {
		ws.WriteControl(gorillawebsocket.CloseMessage,
			gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		ws.Close()
		return nil
	}
	s.hub.Join(client, PersonalRoom(p.UserID))

	log := s.logger.With().Str("client_id", client.ID).Str("user_id", p.UserID.String()).Logger()
	log.Info().Msg("socket connected")

	go s.writePump(client, ws)

	ctx := auth.WithPrincipal(req.Context(), p)
	s.readPump(ctx, client, ws, log)

	log.Info().Msg("socket disconnected")
	return nil
}

// readPump dispatches inbound frames until the connection fails. Room
// membership ends with the connection.
func (s *Server) readPump(ctx context.Context, client *Client, ws *gorillawebsocket.Conn, log zerolog.Logger) {
	defer func() {
		s.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("socket closed unexpectedly")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			client.EmitError("malformed message")
			continue
		}
		s.dispatch(ctx, client, env)
	}
}

// writePump drains the client's queue and keeps the connection alive with
// pings. It exits when the queue is closed by Unregister.
func (s *Server) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// non-browser clients send no Origin
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
