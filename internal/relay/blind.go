package relay

import (
	"context"
	"encoding/json"
	"strconv"
)

// The pairing sub-protocol runs end to end between clients; the server must
// not read or transform its payloads. Each phase carries its target under a
// different field because the conversational role reverses mid-protocol:
// the initiator addresses the target, then the target addresses the
// initiator back.
var blindRoutes = map[string]string{
	"pair-request":  "target_user_id",
	"pair-response": "initiator_id",
	"pair-result":   "initiator_id",
}

// BlindEventNames lists the sub-protocol events the transport should hand
// to RelayOpaque.
func BlindEventNames() []string {
	names := make([]string, 0, len(blindRoutes))
	for name := range blindRoutes {
		names = append(names, name)
	}
	return names
}

// RelayOpaque forwards a sub-protocol payload unchanged to the connection
// of the user named by the payload's routing field. This path is
// fire-and-forget: there is no caller waiting on a status, so every failure
// is a logged drop, never an error. The sender identity comes from the
// originating connection's session, not from the payload, and is used for
// logging only.
func (e *Engine) RelayOpaque(ctx context.Context, sender int64, event string, payload json.RawMessage) {
	log := e.logger.With().Str("event", event).Int64("sender", sender).Logger()

	field, known := blindRoutes[event]
	if !known {
		log.Warn().Msg("dropping unknown opaque event")
		return
	}

	targetID, ok := extractRoutingID(payload, field)
	if !ok {
		log.Warn().Str("field", field).Msg("dropping opaque event without routing field")
		return
	}

	handle, bound, err := e.connections.Lookup(ctx, targetID)
	if err != nil {
		log.Warn().Err(err).Int64("target", targetID).Msg("dropping opaque event, connection lookup failed")
		return
	}
	if !bound {
		log.Debug().Int64("target", targetID).Msg("dropping opaque event, target not connected")
		return
	}

	live, err := e.liveness.Check(ctx, targetID, e.threshold)
	if err != nil {
		log.Warn().Err(err).Int64("target", targetID).Msg("dropping opaque event, liveness check failed")
		return
	}
	if !live.Online {
		log.Debug().Int64("target", targetID).Msg("dropping opaque event, target not online")
		return
	}

	e.emitter.Emit(handle, event, payload)
}

// extractRoutingID pulls the routing field out of an otherwise-opaque
// payload. Both numeric and string-encoded ids appear on the wire.
func extractRoutingID(payload json.RawMessage, field string) (int64, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return 0, false
	}
	raw, ok := fields[field]
	if !ok {
		return 0, false
	}

	var id int64
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, id > 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		id, err := strconv.ParseInt(s, 10, 64)
		return id, err == nil && id > 0
	}
	return 0, false
}
