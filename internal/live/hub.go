// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

// Package live streams attendance counts of an event to connected browsers
// over websockets.
package live

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/olahol/melody"

	"github.com/cosypolyamory/site/internal/model"
)

const (
	keyEventID = "event_id"
	keyInitial = "initial"
)

// Update is the message sent to viewers of an event.
type Update struct {
	Type    string                 `json:"type"`
	EventID uint64                 `json:"event_id"`
	Counts  model.AttendanceCounts `json:"counts"`
}

type Hub struct {
	logger *slog.Logger
	m      *melody.Melody
}

func NewHub() *Hub {
	h := &Hub{
		logger: slog.Default().WithGroup("live"),
		m:      melody.New(),
	}
	h.m.Config.MaxMessageSize = 512
	h.m.Config.PingPeriod = 30 * time.Second
	h.m.Config.PongWait = 60 * time.Second

	h.m.HandleConnect(func(s *melody.Session) {
		eventID, _ := s.Get(keyEventID)
		h.logger.Debug("viewer connected", "event", eventID)
		if initial, ok := s.Get(keyInitial); ok {
			if err := s.Write(initial.([]byte)); err != nil {
				h.logger.Warn("write initial counts", "event", eventID, "error", err)
			}
		}
	})
	h.m.HandleDisconnect(func(s *melody.Session) {
		eventID, _ := s.Get(keyEventID)
		h.logger.Debug("viewer disconnected", "event", eventID)
	})
	h.m.HandleError(func(s *melody.Session, err error) {
		eventID, _ := s.Get(keyEventID)
		h.logger.Warn("websocket error", "event", eventID, "error", err)
	})
	return h
}

// Serve upgrades the request and subscribes it to eventID. counts is sent
// right after the upgrade.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, eventID uint64, counts model.AttendanceCounts) error {
	initial, err := encode(eventID, counts)
	if err != nil {
		return err
	}
	return h.m.HandleRequestWithKeys(w, r, map[string]any{
		keyEventID: eventID,
		keyInitial: initial,
	})
}

// Publish sends counts to every viewer of eventID.
func (h *Hub) Publish(eventID uint64, counts model.AttendanceCounts) {
	msg, err := encode(eventID, counts)
	if err != nil {
		h.logger.Error("encode update", "event", eventID, "error", err)
		return
	}
	err = h.m.BroadcastFilter(msg, func(s *melody.Session) bool {
		id, ok := s.Get(keyEventID)
		return ok && id == eventID
	})
	if err != nil {
		h.logger.Warn("broadcast update", "event", eventID, "error", err)
	}
}

func (h *Hub) Viewers() int { return h.m.Len() }

func (h *Hub) Close() error { return h.m.Close() }

func encode(eventID uint64, counts model.AttendanceCounts) ([]byte, error) {
	return json.Marshal(Update{Type: "attendance", EventID: eventID, Counts: counts})
}
