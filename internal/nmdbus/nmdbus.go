// Package nmdbus reads NetworkManager connection state over the system
// D-Bus instead of spawning nmcli for every query.
package nmdbus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/wesleywu/killswitch/internal/killswitch"
	"github.com/wesleywu/killswitch/internal/logger"
)

const (
	service = "org.freedesktop.NetworkManager"

	rootPath     dbus.ObjectPath = "/org/freedesktop/NetworkManager"
	settingsPath dbus.ObjectPath = "/org/freedesktop/NetworkManager/Settings"

	listConnections   = service + ".Settings.ListConnections"
	getSettings       = service + ".Settings.Connection.GetSettings"
	activeConnections = service + ".ActiveConnections"
	activeID          = service + ".Connection.Active.Id"

	propertiesGet = "org.freedesktop.DBus.Properties.Get"

	errUnknownObject     = "org.freedesktop.DBus.Error.UnknownObject"
	errUnknownMethod     = "org.freedesktop.DBus.Error.UnknownMethod"
	errInvalidConnection = service + ".Settings.InvalidConnection"
)

// Bus is the subset of a D-Bus connection the source needs.
type Bus interface {
	Call(ctx context.Context, path dbus.ObjectPath, method string, out interface{}, args ...interface{}) error
	Property(ctx context.Context, path dbus.ObjectPath, name string) (dbus.Variant, error)
	Close() error
}

// Source implements killswitch.StateSource.
type Source struct {
	bus    Bus
	logger *logger.Logger
}

var _ killswitch.StateSource = (*Source)(nil)

// Connect opens a private system bus connection.
func Connect(log *logger.Logger) (*Source, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return New(&connBus{conn: conn}, log), nil
}

func New(bus Bus, log *logger.Logger) *Source {
	return &Source{bus: bus, logger: log.WithComponent("nmdbus")}
}

func (s *Source) Close() error {
	return s.bus.Close()
}

// DefinedProfiles returns the id of every saved connection. Connections
// removed between the listing and the read are skipped; any other read
// failure fails the query.
func (s *Source) DefinedProfiles(ctx context.Context) ([]string, error) {
	ctx = context.WithoutCancel(ctx)

	var paths []dbus.ObjectPath
	if err := s.bus.Call(ctx, settingsPath, listConnections, &paths); err != nil {
		return nil, &killswitch.QueryError{Query: "defined", Cause: err}
	}

	names := make([]string, 0, len(paths))
	for _, p := range paths {
		var settings map[string]map[string]dbus.Variant
		if err := s.bus.Call(ctx, p, getSettings, &settings); err != nil {
			if vanished(err) {
				s.logger.Debug("Skipping removed connection", "path", string(p), "error", err)
				continue
			}
			return nil, &killswitch.QueryError{Query: "defined", Cause: fmt.Errorf("read %s: %w", p, err)}
		}
		if id, ok := connectionID(settings); ok {
			names = append(names, id)
		}
	}
	return names, nil
}

// ActiveProfiles returns the id of every active connection.
func (s *Source) ActiveProfiles(ctx context.Context) ([]string, error) {
	ctx = context.WithoutCancel(ctx)

	v, err := s.bus.Property(ctx, rootPath, activeConnections)
	if err != nil {
		return nil, &killswitch.QueryError{Query: "active", Cause: err}
	}
	paths, ok := v.Value().([]dbus.ObjectPath)
	if !ok {
		return nil, &killswitch.QueryError{
			Query: "active",
			Cause: fmt.Errorf("unexpected %s signature %s", activeConnections, v.Signature()),
		}
	}

	names := make([]string, 0, len(paths))
	for _, p := range paths {
		idv, err := s.bus.Property(ctx, p, activeID)
		if err != nil {
			if vanished(err) {
				s.logger.Debug("Skipping deactivated connection", "path", string(p), "error", err)
				continue
			}
			return nil, &killswitch.QueryError{Query: "active", Cause: fmt.Errorf("read %s: %w", p, err)}
		}
		if id, ok := idv.Value().(string); ok {
			names = append(names, id)
		}
	}
	return names, nil
}

// vanished reports whether err means the object left the bus after it
// was listed.
func vanished(err error) bool {
	var name string
	var de dbus.Error
	var dep *dbus.Error
	switch {
	case errors.As(err, &de):
		name = de.Name
	case errors.As(err, &dep):
		name = dep.Name
	default:
		return false
	}
	switch name {
	case errUnknownObject, errUnknownMethod, errInvalidConnection:
		return true
	}
	return false
}

func connectionID(settings map[string]map[string]dbus.Variant) (string, bool) {
	conn, ok := settings["connection"]
	if !ok {
		return "", false
	}
	v, ok := conn["id"]
	if !ok {
		return "", false
	}
	id, ok := v.Value().(string)
	return id, ok
}

type connBus struct {
	conn *dbus.Conn
}

func (b *connBus) Call(ctx context.Context, path dbus.ObjectPath, method string, out interface{}, args ...interface{}) error {
	return b.conn.Object(service, path).CallWithContext(ctx, method, 0, args...).Store(out)
}

// Property reads a property through Properties.Get; name is the fully
// qualified interface and property.
func (b *connBus) Property(ctx context.Context, path dbus.ObjectPath, name string) (dbus.Variant, error) {
	iface, prop := splitProperty(name)
	var v dbus.Variant
	err := b.conn.Object(service, path).CallWithContext(ctx, propertiesGet, 0, iface, prop).Store(&v)
	return v, err
}

func (b *connBus) Close() error {
	return b.conn.Close()
}

func splitProperty(name string) (string, string) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}
