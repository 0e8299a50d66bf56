// Package rpc maintains the persistent playback control channel to a
// Tridentstream server.
package rpc

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	cklog "github.com/tridentstream/client-kodi/internal/log"
	"github.com/tridentstream/client-kodi/internal/metrics"
)

// State is the session's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateRegistered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// ErrNotConnected is returned by SendCommand while no connection is open.
var ErrNotConnected = errors.New("rpc: session not connected")

// Handler processes one inbound remote procedure call. Handlers run on the
// session's receive goroutine and decode their own positional arguments.
type Handler func(args []json.RawMessage)

// Config describes a session. The reconnect fields exist for tests; zero
// values select the production cooldown of 30 ticks of one second.
type Config struct {
	URL       string // websocket endpoint (ws:// or wss://)
	Username  string
	Password  string
	PlayerID  string
	Name      string // display name advertised to the server
	VerifyTLS bool

	ReconnectTicks int           // cooldown length in ticks, default 30
	TickInterval   time.Duration // cooldown tick, default 1s
}

// Session manages one persistent bidirectional connection. Commands and
// options registered before Connect are advertised in the initial register
// call; the session reconnects on unexpected closure until Close is called.
type Session struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	state         State
	loggedIn      bool
	sentFullState bool
	shuttingDown  bool
	commands      []string
	handlers      map[string]Handler
	options       map[string]any
}

type envelope struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      string `json:"id"`
}

type inboundCall struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// WebsocketURL converts an http(s) resource link to the matching websocket
// scheme. Non-http URLs pass through unchanged.
func WebsocketURL(httpURL string) string {
	if strings.HasPrefix(httpURL, "http") {
		return "ws" + httpURL[len("http"):]
	}
	return httpURL
}

// NewSession returns an unconnected session.
func NewSession(cfg Config) *Session {
	if cfg.ReconnectTicks == 0 {
		cfg.ReconnectTicks = 30
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- user-controlled setting for self-signed servers
	}

	return &Session{
		cfg:      cfg,
		http:     &http.Client{Transport: transport},
		logger:   cklog.WithComponent("rpc"),
		handlers: make(map[string]Handler),
		options:  make(map[string]any),
	}
}

// RegisterCommand adds the command to the advertised vocabulary and installs
// its handler. Commands registered after Connect are dispatched but not
// re-advertised until the next register call.
func (s *Session) RegisterCommand(name string, handler Handler) {
	s.logger.Debug().Str("event", "session.register_command").Str("command", name).Msg("registering command")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[name]; !ok {
		s.commands = append(s.commands, name)
	}
	s.handlers[name] = handler
}

// SetOption sets one entry of the advertised option map.
func (s *Session) SetOption(key string, value any) {
	s.logger.Debug().Str("event", "session.set_option").Str("option", key).Msg("setting option")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.options[key] = value
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LoggedIn reports whether the session has completed registration since the
// last (re)connect.
func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// SentFullState reports whether a full state snapshot went out since login.
func (s *Session) SentFullState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sentFullState
}

// MarkFullStateSent records that a state push went out since login. The next
// push may be a diff.
func (s *Session) MarkFullStateSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentFullState = true
}

// Connect opens the websocket, registers the player and starts the receive
// loop. An existing connection is torn down first.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return errors.New("rpc: session closed")
	}
	if s.conn != nil {
		// Detach before closing so the receive loop treats the close as
		// intentional for the old connection.
		old := s.conn
		s.conn = nil
		s.mu.Unlock()
		_ = old.Close(websocket.StatusNormalClosure, "reconnecting")
		s.mu.Lock()
	}
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	s.logger.Info().
		Str("event", "session.connect").
		Str("url", s.cfg.URL).
		Str("username", s.cfg.Username).
		Msg("connecting to playback endpoint")

	header := http.Header{}
	credentials := base64.StdEncoding.EncodeToString([]byte(s.cfg.Username + ":" + s.cfg.Password))
	header.Set("Authorization", "Basic "+credentials)

	conn, _, err := websocket.Dial(ctx, s.cfg.URL, &websocket.DialOptions{
		HTTPClient: s.http,
		HTTPHeader: header,
	})
	if err != nil {
		s.mu.Lock()
		if !s.shuttingDown {
			s.setStateLocked(StateDisconnected)
		}
		s.mu.Unlock()
		s.logger.Warn().Err(err).Str("event", "session.dial_failed").Msg("dial failed")
		return err
	}
	// The server streams state requests indefinitely; there is no sensible
	// inbound size ceiling beyond sanity.
	conn.SetReadLimit(1 << 20)

	// Close may have landed while the dial was in flight. Closed is terminal;
	// the fresh connection must not be installed, let alone registered.
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
		s.logger.Info().Str("event", "session.dial_discarded").Msg("session closed during dial, discarding connection")
		return errors.New("rpc: session closed")
	}
	s.conn = conn
	s.setStateLocked(StateOpen)
	s.mu.Unlock()

	if err := s.register(); err != nil {
		s.logger.Warn().Err(err).Str("event", "session.register_failed").Msg("register call failed")
		_ = conn.Close(websocket.StatusInternalError, "register failed")
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		if !s.shuttingDown {
			s.setStateLocked(StateDisconnected)
		}
		s.mu.Unlock()
		return err
	}

	go s.receiveLoop(conn)
	return nil
}

// register advertises the player and its capabilities, then marks the session
// logged in. Every login forces the next state push to be a full snapshot.
func (s *Session) register() error {
	s.mu.Lock()
	commands := make([]string, len(s.commands))
	copy(commands, s.commands)
	options := make(map[string]any, len(s.options))
	for k, v := range s.options {
		options[k] = v
	}
	s.mu.Unlock()

	if _, err := s.SendCommand("register", s.cfg.PlayerID, s.cfg.Name, commands, options); err != nil {
		return err
	}

	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return errors.New("rpc: session closed")
	}
	s.loggedIn = true
	s.sentFullState = false
	s.setStateLocked(StateRegistered)
	s.mu.Unlock()

	s.logger.Info().Str("event", "session.registered").Str("player_id", s.cfg.PlayerID).Msg("player registered")
	return nil
}

// SendCommand transmits one fire-and-forget RPC call and returns its request
// identifier. No response is ever correlated; the identifier exists for
// protocol compliance.
func (s *Session) SendCommand(method string, args ...any) (string, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return "", ErrNotConnected
	}

	if args == nil {
		args = []any{}
	}
	id := uuid.NewString()
	payload, err := json.Marshal(envelope{
		JSONRPC: "2.0",
		Method:  method,
		Params:  args,
		ID:      id,
	})
	if err != nil {
		return "", err
	}

	s.logger.Debug().Str("event", "session.send").Str("method", method).Str("request_id", id).Msg("sending command")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return "", err
	}

	metrics.RecordCommandSent(method)
	return id, nil
}

// receiveLoop reads inbound calls until the connection drops, then hands off
// to the reconnect path.
func (s *Session) receiveLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.Read(context.Background())
		if err != nil {
			s.onClose(conn)
			return
		}
		s.dispatch(payload)
	}
}

func (s *Session) dispatch(payload []byte) {
	var call inboundCall
	if err := json.Unmarshal(payload, &call); err != nil {
		s.logger.Warn().Err(err).Str("event", "session.bad_message").Msg("dropping undecodable message")
		return
	}
	if call.Method == "" {
		s.logger.Debug().Str("event", "session.ignored_message").Msg("message carries no method")
		return
	}

	s.mu.Lock()
	handler := s.handlers[call.Method]
	s.mu.Unlock()
	if handler == nil {
		s.logger.Warn().Str("event", "session.unknown_method").Str("method", call.Method).Msg("unknown method")
		return
	}

	s.logger.Info().Str("event", "session.call").Str("method", call.Method).Msg("dispatching remote call")
	handler(call.Params)
}

// onClose handles an unexpected connection loss. It is a no-op when the close
// came from Close or from Connect replacing the connection.
func (s *Session) onClose(conn *websocket.Conn) {
	s.mu.Lock()
	if s.shuttingDown || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.loggedIn = false
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	s.logger.Info().Str("event", "session.connection_lost").Msg("connection lost, scheduling reconnect")
	go s.reconnectLoop()
}

// reconnectLoop waits out the cooldown in single ticks so Close can interrupt
// within one tick, then redials. Dial failures restart the cooldown.
func (s *Session) reconnectLoop() {
	for {
		for i := 0; i < s.cfg.ReconnectTicks; i++ {
			if s.closing() {
				return
			}
			time.Sleep(s.cfg.TickInterval)
		}
		if s.closing() {
			return
		}

		metrics.RecordSessionReconnect()
		if err := s.Connect(context.Background()); err == nil {
			return
		}
	}
}

func (s *Session) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}

// Close shuts the session down for good. Idempotent; suppresses any pending
// reconnect.
func (s *Session) Close() {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.shuttingDown = true
	s.loggedIn = false
	conn := s.conn
	s.conn = nil
	s.setStateLocked(StateClosed)
	s.mu.Unlock()

	s.logger.Info().Str("event", "session.close").Msg("closing session")
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
}

func (s *Session) setStateLocked(state State) {
	s.state = state
	metrics.SetSessionState(state.String())
}
