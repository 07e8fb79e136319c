package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/penaltyvision/overlay-server/internal/logger"
	"github.com/penaltyvision/overlay-server/internal/metrics"
)

// ChannelLabel is the data channel the client opens to receive posture events.
const ChannelLabel = "overlay"

const gatherTimeout = 10 * time.Second

var (
	// ErrMaxClients is returned when the client limit is reached.
	ErrMaxClients = errors.New("maximum clients reached")
	// ErrInvalidOffer is returned for bodies that are not an SDP offer.
	ErrInvalidOffer = errors.New("invalid SDP offer")
)

// Client represents a connected WebRTC client
type Client struct {
	id        string
	sessionID string
	peerConn  *webrtc.PeerConnection
	channel   atomic.Pointer[webrtc.DataChannel]
	msgChan   chan []byte
	closeChan chan struct{}
	sent      atomic.Uint64
	dropped   atomic.Uint64
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics
}

// NewServer creates a new WebRTC server
func NewServer(stunServers []string, maxClients int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		if url == "" {
			continue
		}
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	settingsEngine := webrtc.SettingEngine{}
	// Reduce DTLS retransmission timeout (faster connection, less CPU on retries)
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	if m == nil {
		m = metrics.New()
	}
	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
		metrics:    m,
	}
}

// HandleOffer answers an SDP offer for a session. The offer must carry the
// client-created "overlay" data channel; posture events for sessionID are
// sent on it.
func (s *Server) HandleOffer(sessionID string, offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("%w: type %q", ErrInvalidOffer, offer.Type.String())
	}

	if s.maxClients > 0 && s.GetClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrMaxClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		s.metrics.WebRTCErrors.Add(1)
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        uuid.NewString(),
		sessionID: sessionID,
		peerConn:  peerConn,
		msgChan:   make(chan []byte, 30), // Buffer 1 second of posture frames
		closeChan: make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			logger.Debug("WebRTC", "Client %s opened unexpected channel %q", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			client.channel.Store(dc)
			logger.Debug("WebRTC", "Client %s data channel open", client.id)
		})
	})

	// Remove client on disconnection, failure, or close
	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			go s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(gatherTimeout):
		peerConn.Close()
		s.metrics.WebRTCErrors.Add(1)
		return nil, errors.New("ICE gathering timed out")
	}
	logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, errors.New("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.clientsMu.Lock()
	s.clients[client.id] = client
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.metrics.WebRTCClients.Store(uint64(count))

	go s.sendMessages(client)

	logger.Info("WebRTC", "Client %s connected to session %s", client.id, sessionID)
	return answerJSON, nil
}

// Broadcast queues payload for every client of sessionID.
func (s *Server) Broadcast(sessionID string, payload []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		if client.sessionID != sessionID {
			continue
		}
		select {
		case client.msgChan <- payload:
		default:
			client.dropped.Add(1)
		}
	}
}

// sendMessages drains a client's queue onto its data channel
func (s *Server) sendMessages(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return
		case msg := <-client.msgChan:
			dc := client.channel.Load()
			if dc == nil {
				// Channel not open yet
				client.dropped.Add(1)
				continue
			}
			if err := dc.SendText(string(msg)); err != nil {
				s.metrics.WebRTCErrors.Add(1)
				logger.Warn("WebRTC", "Error sending to client %s: %v", client.id, err)
				continue
			}
			client.sent.Add(1)
			s.metrics.WebRTCSent.Add(1)
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	count := len(s.clients)
	s.clientsMu.Unlock()

	if !exists {
		return
	}
	s.metrics.WebRTCClients.Store(uint64(count))
	close(client.closeChan)
	client.peerConn.Close()

	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.sent.Load(), client.dropped.Load())
}

// RemoveSession disconnects every client of a session.
func (s *Server) RemoveSession(sessionID string) {
	for _, id := range s.clientIDs(sessionID) {
		s.RemoveClient(id)
	}
}

func (s *Server) clientIDs(sessionID string) []string {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	var ids []string
	for id, c := range s.clients {
		if sessionID == "" || c.sessionID == sessionID {
			ids = append(ids, id)
		}
	}
	return ids
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]map[string]any {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]any)
	for id, client := range s.clients {
		stats[id] = map[string]any{
			"session_id":        client.sessionID,
			"messages_sent":     client.sent.Load(),
			"messages_dropped":  client.dropped.Load(),
			"data_channel_open": client.channel.Load() != nil,
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	for _, id := range s.clientIDs("") {
		s.RemoveClient(id)
	}
	return nil
}
