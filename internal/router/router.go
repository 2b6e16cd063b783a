// Package router turns socket frames into hub operations and reports
// declined events back to the sender.
package router

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"syncplayer/pkg/interfaces"
	"syncplayer/pkg/types"
)

// Dispatcher applies a decoded event. It is satisfied by *hub.Hub.
type Dispatcher interface {
	Dispatch(ctx context.Context, event string, req types.Request) error
}

// accountHolder is implemented by connections that carry the resolved
// account.
type accountHolder interface {
	Account() types.Account
}

type Router struct {
	hub     Dispatcher
	limiter *RateLimiter
	log     zerolog.Logger
}

func NewRouter(hub Dispatcher, limiter *RateLimiter, log zerolog.Logger) *Router {
	if limiter == nil {
		limiter = NewRateLimiter(0, nil)
	}
	return &Router{
		hub:     hub,
		limiter: limiter,
		log:     log.With().Str("component", "router").Logger(),
	}
}

// RouteMessage decodes and applies one frame. Any failure is answered with an
// error frame to conn only.
func (r *Router) RouteMessage(ctx context.Context, conn interfaces.Connection, data []byte) {
	event, err := r.route(ctx, conn, data)
	if err == nil {
		return
	}
	if types.Kind(err) == nil {
		r.log.Error().Err(err).Str("event", event).Str("user", conn.UserID()).Msg("event failed")
	}
	frame, encErr := types.EncodeFrame(types.EventError, types.ErrorPayload{
		Message: types.Message(err),
		Event:   event,
	})
	if encErr != nil {
		return
	}
	if sendErr := conn.Send(frame); sendErr != nil {
		r.log.Debug().Err(sendErr).Str("user", conn.UserID()).Msg("error reply not delivered")
	}
}

func (r *Router) route(ctx context.Context, conn interfaces.Connection, data []byte) (string, error) {
	var frame types.Frame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
		return "", ErrMalformedFrame
	}
	if !r.limiter.Allow(conn.UserID()) {
		return frame.Event, ErrRateLimitExceeded
	}

	req, err := types.DecodeRequest(frame.Event, frame.Data)
	if err != nil {
		return frame.Event, err
	}
	if req.Actor() != conn.UserID() {
		return frame.Event, ErrIdentityMismatch
	}
	if join, ok := req.(*types.JoinRequest); ok {
		fillProfile(join, conn)
	}
	return frame.Event, r.hub.Dispatch(ctx, frame.Event, req)
}

// fillProfile completes a join from the authenticated account when the
// client left profile fields out.
func fillProfile(req *types.JoinRequest, conn interfaces.Connection) {
	holder, ok := conn.(accountHolder)
	if !ok {
		return
	}
	acct := holder.Account()
	if strings.TrimSpace(req.Name) == "" {
		req.Name = acct.Name
	}
	if req.Email == "" {
		req.Email = acct.Email
	}
	if req.ProfileImage == "" {
		req.ProfileImage = acct.ProfileImage
	}
}
