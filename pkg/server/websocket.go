package server

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncline-dev/syncline/pkg/protocol"
)

// ReadLoop continuously reads messages from one WebSocket connection,
// decoding envelopes and queueing events. It blocks until the connection
// fails or the client says goodbye, then detaches that connection.
func (s *Session) ReadLoop(conn *websocket.Conn) {
	defer s.Detach(conn)

	conn.SetReadLimit(s.config.MaxMessageSize)

	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Error("read error", "error", err)
			}
			return
		}

		s.touch()
		s.bytesRecv.Add(uint64(len(msg)))

		env, err := protocol.Decode(msg)
		if err != nil {
			s.logger.Error("envelope decode error", "error", err)
			s.sendError(protocol.ErrCodeBadMessage, "malformed message")
			continue
		}

		switch env.Type {
		case protocol.MsgEvent:
			s.handleEventMessage(env.Data)

		case protocol.MsgAck:
			s.handleAckMessage(env.Data)

		case protocol.MsgPong:
			s.logger.Debug("received pong")

		case protocol.MsgResync:
			rr, err := protocol.DecodeResyncRequest(env.Data)
			if err != nil {
				s.sendError(protocol.ErrCodeBadMessage, "malformed resync")
				continue
			}
			s.handleResync(rr.LastSeq)

		case protocol.MsgBye:
			if b, err := protocol.DecodeBye(env.Data); err == nil {
				s.logger.Info("client closing", "reason", b.Reason)
			}
			s.Close()
			return

		default:
			s.logger.Warn("unexpected message type", "type", env.Type)
		}
	}
}

// handleEventMessage decodes and queues an event from the client.
func (s *Session) handleEventMessage(raw []byte) {
	ev, err := protocol.DecodeEvent(raw)
	if err != nil {
		s.logger.Error("event decode error", "error", err)
		s.sendError(protocol.ErrCodeBadMessage, "invalid event")
		return
	}
	if err := s.QueueEvent(ev); err != nil {
		s.sendError(protocol.ErrCodeRateLimited, "event queue full")
	}
}

// handleAckMessage records the client's delivery watermark and lets the
// replay history garbage-collect behind it.
func (s *Session) handleAckMessage(raw []byte) {
	ack, err := protocol.DecodeAck(raw)
	if err != nil {
		s.logger.Error("ack decode error", "error", err)
		return
	}
	s.ackSeq.Store(ack.LastSeq)
	s.history.GarbageCollect(ack.LastSeq)
	s.logger.Debug("received ack", "seq", ack.LastSeq)
}

// handleResync answers a client-observed sequence gap: replay the missed
// deltas when the history still covers them, otherwise send a fresh
// snapshot baseline.
func (s *Session) handleResync(lastSeq uint64) {
	s.logger.Info("resync requested", "last_seq", lastSeq, "seq", s.sendSeq.Load())

	s.acquire()
	defer s.release()

	if lastSeq == s.sendSeq.Load() {
		return // Nothing missed after all
	}
	if frames := s.history.Frames(lastSeq); frames != nil {
		for _, frame := range frames {
			s.writeFrame(frame)
		}
		return
	}
	s.sendSnapshotLocked()
}

// WriteLoop sends heartbeat pings for the lifetime of one connection.
func (s *Session) WriteLoop(connDone <-chan struct{}) {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.sendPing(); err != nil {
				return
			}
		case <-connDone:
			return
		case <-s.done:
			return
		}
	}
}

// EventLoop processes the main queue: one event at a time, FIFO, for the
// lifetime of the session. It keeps running across detach/reattach so
// queued events are dispatched (and their deltas recorded for replay) even
// while no channel is bound.
func (s *Session) EventLoop() {
	for {
		select {
		case ev := <-s.events:
			s.dispatch(ev)
		case <-s.done:
			return
		}
	}
}
