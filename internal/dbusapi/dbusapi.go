// Package dbusapi exposes the scan controller on the D-Bus session bus
// and broadcasts accepted scans as signals.
package dbusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"scanwedge/internal/scanner"
)

// D-Bus names.
const (
	BusName       = "io.scanwedge.Scanner"
	Interface     = "io.scanwedge.Scanner"
	ObjectPath    = dbus.ObjectPath("/io/scanwedge/Scanner")
	ScannedSignal = Interface + ".Scanned"
)

// ErrNameTaken is returned when another process owns BusName.
var ErrNameTaken = errors.New("dbusapi: bus name already taken")

// ErrNotStarted is returned by Deliver before Start.
var ErrNotStarted = errors.New("dbusapi: service not started")

const introspectXML = `
<node>
	<interface name="` + Interface + `">
		<method name="Reset"/>
		<method name="Enable"/>
		<method name="Disable"/>
		<method name="Status">
			<arg direction="out" type="s"/>
		</method>
		<method name="ScannerConnected">
			<arg direction="out" type="b"/>
		</method>
		<signal name="Scanned">
			<arg name="code" type="s"/>
			<arg name="suffix" type="s"/>
		</signal>
	</interface>` + introspect.IntrospectDataString + `</node>`

// Controller is the part of the scan controller the bus can drive.
type Controller interface {
	Reset()
	Enable()
	Disable()
	Status() scanner.Status
	ScannerConnected() bool
}

// Conn is the subset of *dbus.Conn the service uses.
type Conn interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	Close() error
}

// Service owns BusName and forwards method calls to a Controller. It is
// also a dispatch sink emitting the Scanned signal.
type Service struct {
	ctrl Controller
	log  *slog.Logger

	mu   sync.Mutex
	conn Conn
}

// New creates an unstarted service.
func New(ctrl Controller, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ctrl: ctrl, log: logger.With("component", "dbus")}
}

// StartSession connects to the session bus and starts the service.
func (s *Service) StartSession() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connect to session bus: %w", err)
	}
	if err := s.Start(conn); err != nil {
		conn.Close()
		return err
	}
	return nil
}

// Start exports the object on conn and claims BusName.
func (s *Service) Start(conn Conn) error {
	obj := &busObject{svc: s}
	if err := conn.Export(obj, ObjectPath, Interface); err != nil {
		return fmt.Errorf("export scanner object: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), ObjectPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return ErrNameTaken
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.log.Info("dbus service started", "name", BusName, "path", ObjectPath)
	return nil
}

// Name implements dispatch.Sink.
func (s *Service) Name() string { return "dbus" }

// Deliver implements dispatch.Sink by emitting Scanned(code, suffix).
func (s *Service) Deliver(_ context.Context, r scanner.Result) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotStarted
	}
	if err := conn.Emit(ObjectPath, ScannedSignal, r.Code, string(r.Suffix)); err != nil {
		return fmt.Errorf("emit scanned: %w", err)
	}
	return nil
}

// Close releases the bus connection.
func (s *Service) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// busObject carries only the methods exported on the bus.
type busObject struct {
	svc *Service
}

func (o *busObject) Reset() *dbus.Error {
	o.svc.log.Debug("reset requested")
	o.svc.ctrl.Reset()
	return nil
}

func (o *busObject) Enable() *dbus.Error {
	o.svc.log.Debug("enable requested")
	o.svc.ctrl.Enable()
	return nil
}

func (o *busObject) Disable() *dbus.Error {
	o.svc.log.Debug("disable requested")
	o.svc.ctrl.Disable()
	return nil
}

// Status returns the controller status as JSON.
func (o *busObject) Status() (string, *dbus.Error) {
	data, err := json.Marshal(o.svc.ctrl.Status())
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return string(data), nil
}

func (o *busObject) ScannerConnected() (bool, *dbus.Error) {
	return o.svc.ctrl.ScannerConnected(), nil
}
