package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/facecls/internal/service"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WebSocket upgrader; origins are checked by the CORS setting.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocketClassifyRequest is one classification request over WebSocket.
type WebSocketClassifyRequest struct {
	ImageData string `json:"image_data"`
	RequestID string `json:"request_id,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketClassifyResponse is sent for every request.
type WebSocketClassifyResponse struct {
	Type      string           `json:"type"`
	Status    string           `json:"status"` // "completed" or "error"
	Results   []service.Result `json:"results"`
	Error     string           `json:"error,omitempty"`
	ErrorType string           `json:"error_type,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return s.corsOrigin == "*" || origin == "" || origin == s.corsOrigin
}

// classifyWebSocketHandler handles WebSocket connections for streaming
// classification.
func (s *Server) classifyWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	up := upgrader
	up.CheckOrigin = s.checkOrigin
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr, "request_id", RequestID(r.Context()))

	s.handleWebSocketConnection(conn, s.clientKey(r))
}

// handleWebSocketConnection processes messages until the client goes away.
// Each message is charged to client like one HTTP classify request.
func (s *Server) handleWebSocketConnection(conn *websocket.Conn, client string) {
	conn.SetReadLimit(s.maxUploadBytes())
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			s.sendWebSocketResponse(conn, s.handleWebSocketMessage(client, data))
		}
	}
}

// handleWebSocketMessage classifies one message. Replies are written
// sequentially by the connection loop, so they arrive in request order.
func (s *Server) handleWebSocketMessage(client string, data []byte) WebSocketClassifyResponse {
	var req WebSocketClassifyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return wsError("", "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if s.rateLimiter != nil {
		if err := s.allow(client, int64(len(req.ImageData))); err != nil {
			classificationsTotal.WithLabelValues(sourceWebSocket, "rate_limited").Inc()
			return wsError(requestID, "rate_limited", err.Error())
		}
	}

	svc := s.service()
	if svc == nil {
		classificationsTotal.WithLabelValues(sourceWebSocket, "unavailable").Inc()
		return wsError(requestID, "unavailable", "Classifier not loaded")
	}

	payload, err := base64Payload(req.ImageData)
	if err != nil {
		classificationsTotal.WithLabelValues(sourceWebSocket, "error").Inc()
		return wsError(requestID, "invalid_request", err.Error())
	}

	start := time.Now()
	results, err := payload.run(svc)
	duration := time.Since(start)
	if err != nil {
		classificationsTotal.WithLabelValues(sourceWebSocket, "error").Inc()
		status, msg := statusForError(err)
		errType := "processing_error"
		if status < http.StatusInternalServerError {
			errType = "invalid_request"
		}
		return wsError(requestID, errType, msg)
	}

	recordClassification(sourceWebSocket, results, duration)
	return WebSocketClassifyResponse{
		Type:      "classification",
		Status:    "completed",
		Results:   results,
		RequestID: requestID,
	}
}

func wsError(requestID, errorType, message string) WebSocketClassifyResponse {
	return WebSocketClassifyResponse{
		Type:      "error",
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
		RequestID: requestID,
	}
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketClassifyResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}

	websocketMessagesTotal.WithLabelValues("sent").Inc()
}
