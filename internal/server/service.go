package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/example/realtime-docstore/internal/db"
	"github.com/example/realtime-docstore/internal/observability"
	"github.com/example/realtime-docstore/internal/ws"
)

// Namespace values of the wire protocol. Clients send v2, snapshot, and
// unsubscribe; the server answers on message and snapshot and reports
// protocol failures on error_msg.
const (
	nsQuery       = "v2"
	nsSnapshot    = "snapshot"
	nsUnsubscribe = "unsubscribe"
	nsMessage     = "message"
	nsError       = "error_msg"
)

type queryRequest struct {
	ID    string          `json:"id"`
	Query json.RawMessage `json:"query"`
}

type answerPayload struct {
	ID    string `json:"id"`
	Error bool   `json:"error"`
	Data  any    `json:"data"`
}

type snapshotPayload struct {
	ID   string              `json:"id"`
	Data []db.SnapshotChange `json:"data"`
}

// Service translates wire envelopes into engine calls. It tracks the
// request-id to subscription-id mapping per connection so unsubscribe can
// be addressed by the client's original request id.
type Service struct {
	manager *Manager
	logger  zerolog.Logger

	mu            sync.Mutex
	subscriptions map[*ws.Connection]map[string]string
}

// NewService builds the protocol service on top of the manager.
func NewService(manager *Manager, logger zerolog.Logger) *Service {
	return &Service{
		manager:       manager,
		logger:        logger,
		subscriptions: make(map[*ws.Connection]map[string]string),
	}
}

// Hooks returns the gateway hooks implementing the protocol.
func (s *Service) Hooks() ws.Hooks {
	return ws.Hooks{
		OnConnect:    s.onConnect,
		OnMessage:    s.onMessage,
		OnDisconnect: s.onDisconnect,
	}
}

func (s *Service) onConnect(_ context.Context, conn *ws.Connection) error {
	s.mu.Lock()
	s.subscriptions[conn] = make(map[string]string)
	s.mu.Unlock()
	return nil
}

func (s *Service) onDisconnect(conn *ws.Connection) {
	s.mu.Lock()
	delete(s.subscriptions, conn)
	s.mu.Unlock()

	// Drops every subscription the session still holds.
	conn.Session().Release()
	s.logger.Debug().Str("session", conn.Session().ID).Msg("session disconnected")
}

func (s *Service) onMessage(ctx context.Context, conn *ws.Connection, envelope ws.Envelope) error {
	handle := s.manager.Get(conn.Database())
	if handle == nil {
		return conn.SendJSON(nsError, "database no longer exists")
	}

	switch envelope.NS {
	case nsQuery:
		return s.handleQuery(ctx, conn, handle, envelope.Data)
	case nsSnapshot:
		return s.handleSnapshot(ctx, conn, handle, envelope.Data)
	case nsUnsubscribe:
		return s.handleUnsubscribe(conn, handle, envelope.Data)
	default:
		s.logger.Debug().Str("ns", envelope.NS).Msg("unknown namespace ignored")
		return nil
	}
}

func (s *Service) answer(ctx context.Context, conn *ws.Connection, id string, data any, err error) error {
	payload := answerPayload{ID: id, Data: data}
	if err != nil {
		logger := observability.LoggerWithTrace(ctx, s.logger)
		logger.Debug().Err(err).Str("request", id).Msg("query failed")
		payload.Error = true
		payload.Data = err.Error()
	}
	return conn.SendJSON(nsMessage, payload)
}

func (s *Service) handleQuery(ctx context.Context, conn *ws.Connection, handle *DatabaseHandle, data json.RawMessage) error {
	var req queryRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return conn.SendJSON(nsError, "malformed query payload")
	}

	queries, err := decodeQueries(req.Query)
	if err != nil {
		return s.answer(ctx, conn, req.ID, nil, err)
	}

	result, err := handle.Database().Run(ctx, queries, conn.Session())
	return s.answer(ctx, conn, req.ID, result, err)
}

// decodeQueries accepts a single query object or an array of them.
func decodeQueries(raw json.RawMessage) ([]db.Query, error) {
	var many []db.Query
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one db.Query
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, db.NewQueryError("malformed query")
	}
	return []db.Query{one}, nil
}

func (s *Service) handleSnapshot(ctx context.Context, conn *ws.Connection, handle *DatabaseHandle, data json.RawMessage) error {
	var req queryRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return conn.SendJSON(nsError, "malformed snapshot payload")
	}
	var query db.Query
	if err := json.Unmarshal(req.Query, &query); err != nil {
		return s.answer(ctx, conn, req.ID, nil, db.NewQueryError("malformed query"))
	}

	result, err := handle.Database().Snapshot(ctx, query, conn.Session(), func(changes []db.SnapshotChange) {
		if err := conn.SendJSON(nsSnapshot, snapshotPayload{ID: req.ID, Data: changes}); err != nil {
			s.logger.Debug().Err(err).Str("request", req.ID).Msg("snapshot delivery failed")
		}
	})
	if err != nil {
		return s.answer(ctx, conn, req.ID, nil, err)
	}

	s.mu.Lock()
	if subs := s.subscriptions[conn]; subs != nil {
		subs[req.ID] = result.ID
	}
	s.mu.Unlock()

	return s.answer(ctx, conn, req.ID, result.Value, nil)
}

func (s *Service) handleUnsubscribe(conn *ws.Connection, handle *DatabaseHandle, data json.RawMessage) error {
	var req queryRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return conn.SendJSON(nsError, "malformed unsubscribe payload")
	}

	s.mu.Lock()
	var subID string
	if subs := s.subscriptions[conn]; subs != nil {
		subID = subs[req.ID]
		delete(subs, req.ID)
	}
	s.mu.Unlock()

	if subID != "" {
		handle.Database().Unsubscribe(subID, conn.Session())
	}
	return nil
}
