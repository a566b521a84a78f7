package notify

import "log/slog"

// Channel is the delivery surface the coordinator and lifecycle talk to.
type Channel interface {
	NotifyDriver(id string, env Envelope) error
	NotifyRider(id string, env Envelope) error
	IsDriverConnected(id string) bool
	ConnectedDrivers() []string
}

// WSChannel delivers over live websocket sessions, with an optional FCM push
// fallback for riders who are momentarily offline.
type WSChannel struct {
	Registry *Registry
	Push     *FCMPusher
	Logger   *slog.Logger
}

func NewWSChannel(reg *Registry, push *FCMPusher, logger *slog.Logger) *WSChannel {
	return &WSChannel{Registry: reg, Push: push, Logger: logger}
}

func (c *WSChannel) NotifyDriver(id string, env Envelope) error {
	return c.Registry.Send(RoleDriver, id, env)
}

func (c *WSChannel) NotifyRider(id string, env Envelope) error {
	err := c.Registry.Send(RoleRider, id, env)
	if err == nil {
		return nil
	}
	if c.Push != nil {
		if perr := c.Push.Push(id, env); perr == nil {
			return nil
		}
	}
	c.Logger.Warn("rider unreachable", "rider_id", id, "type", env.Type)
	return err
}

func (c *WSChannel) IsDriverConnected(id string) bool {
	return c.Registry.IsConnected(RoleDriver, id)
}

func (c *WSChannel) ConnectedDrivers() []string {
	return c.Registry.ConnectedDrivers()
}
