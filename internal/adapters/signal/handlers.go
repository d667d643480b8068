package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/Czou/kmf-tutorial/internal/core"
	"github.com/Czou/kmf-tutorial/internal/room"
)

func (ctl *Controller) handleJoinRoom(ctx context.Context, sid core.SessionID, c *wsConn, data []byte) {
	var p struct {
		Name string `json:"name"`
		Room string `json:"room"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Name == "" || p.Room == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad joinRoom payload")
		ctl.sendError(c, "bad joinRoom payload")
		return
	}

	if ctl.Registry.Exists(p.Name) {
		log.Warn().Str("module", "signal").Str("name", p.Name).Msg("name already taken")
		ctl.sendJSON(c, struct {
			ID      string `json:"id"`
			Message string `json:"message"`
		}{ID: "rejected", Message: "user " + p.Name + " already exists"})
		return
	}

	r, err := ctl.Rooms.GetOrCreateRoom(ctx, p.Room)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", p.Room).Msg("could not create room")
		ctl.sendError(c, "could not create room "+p.Room)
		return
	}
	participant, err := r.Join(ctx, p.Name, sid, c)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").
			Str("name", p.Name).Str("room", p.Room).
			Msg("join failed")
		ctl.sendError(c, "could not join room "+p.Room)
		ctl.Rooms.RemoveRoomIfEmpty(p.Room)
		return
	}
	ctl.Registry.Register(participant)
}

func (ctl *Controller) handleReceiveVideoFrom(ctx context.Context, sid core.SessionID, c *wsConn, data []byte) {
	var p struct {
		Sender   string `json:"sender"`
		SDPOffer string `json:"sdpOffer"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad receiveVideoFrom payload")
		return
	}

	receiver, ok := ctl.Registry.GetBySession(sid)
	if !ok {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("receiveVideoFrom before join")
		return
	}
	sender, ok := ctl.Registry.GetByName(p.Sender)
	if !ok {
		log.Warn().Str("module", "signal").Str("sender", p.Sender).Msg("receiveVideoFrom: sender gone")
		ctl.sendError(c, "user "+p.Sender+" is not available")
		return
	}

	err := receiver.ReceiveVideoFrom(ctx, sender, p.SDPOffer)
	switch {
	case err == nil:
	case errors.Is(err, room.ErrTransport):
		// The receiver's socket is dead: same cleanup as an explicit leave.
		log.Warn().Err(err).Str("module", "signal").Str("name", receiver.Name()).Msg("answer delivery failed")
		ctl.leave(ctx, sid)
	default:
		log.Error().Err(err).Str("module", "signal").
			Str("name", receiver.Name()).Str("sender", p.Sender).
			Msg("receiveVideoFrom failed")
		ctl.sendError(c, "could not establish video from "+p.Sender)
	}
}

func (ctl *Controller) handleOnIceCandidate(sid core.SessionID, data []byte) {
	var p struct {
		Name      string            `json:"name"`
		Candidate core.ICECandidate `json:"candidate"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad onIceCandidate payload")
		return
	}
	participant, ok := ctl.Registry.GetBySession(sid)
	if !ok {
		return
	}
	if err := participant.AddCandidate(p.Name, p.Candidate); err != nil {
		log.Warn().Err(err).Str("module", "signal").
			Str("name", participant.Name()).Str("sender", p.Name).
			Msg("add ice candidate")
	}
}

// leave tears down the participant bound to sid: registry removal, room
// departure and, when the room drained, room destruction. Redundant calls
// (explicit leaveRoom followed by socket close) are no-ops.
func (ctl *Controller) leave(_ context.Context, sid core.SessionID) {
	participant, err := ctl.Registry.RemoveBySession(sid)
	if err != nil {
		log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("leave: nothing to clean up")
		return
	}
	roomName := participant.RoomName()
	if r, ok := ctl.Rooms.Get(roomName); ok {
		r.Leave(participant)
	} else {
		participant.Close()
	}
	ctl.Rooms.RemoveRoomIfEmpty(roomName)
}
