// Package busclient wraps github.com/godbus/dbus/v5 with the handful of
// bus operations the fuzzer needs: introspection, name listing, owner PID
// lookup, and method invocation with a timeout.
package busclient

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"dbusfuzz/internal/busmodel"
)

const (
	introspectable = "org.freedesktop.DBus.Introspectable.Introspect"
	busDriverName  = "org.freedesktop.DBus"
	listNames      = "org.freedesktop.DBus.ListNames"
	ownerPID       = "org.freedesktop.DBus.GetConnectionUnixProcessID"
)

// Client owns one bus connection, acquired against either the session or
// the system bus. Callers acquire a Client once per traversal run and tear
// it down on reconnect after a Crash verdict.
type Client struct {
	conn   *dbus.Conn
	system bool
}

// Dial connects to the system bus if system is true, otherwise the session
// bus, mirroring the two well-known bus addresses every D-Bus tool accepts.
func Dial(system bool) (*Client, error) {
	var conn *dbus.Conn
	var err error
	if system {
		conn, err = dbus.ConnectSystemBus()
	} else {
		conn, err = dbus.ConnectSessionBus()
	}
	if err != nil {
		return nil, fmt.Errorf("busclient: connect: %w", err)
	}
	return &Client{conn: conn, system: system}, nil
}

// Close tears down the underlying connection; on a Client with no
// connection it does nothing and returns nil.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Reconnect tears down and re-establishes the connection, used by Traversal
// after a Crash verdict once the target process has been respawned.
func (c *Client) Reconnect() error {
	_ = c.Close()
	fresh, err := Dial(c.system)
	if err != nil {
		return err
	}
	c.conn = fresh.conn
	return nil
}

// IntrospectXML fetches the raw introspection XML document for (busName,
// objectPath).
func (c *Client) IntrospectXML(busName string, objectPath string) (string, error) {
	obj := c.conn.Object(busName, dbus.ObjectPath(objectPath))
	var xmlDoc string
	if err := obj.Call(introspectable, 0).Store(&xmlDoc); err != nil {
		return "", fmt.Errorf("busclient: introspect %s%s: %w", busName, objectPath, err)
	}
	return xmlDoc, nil
}

// ListNames returns every name currently registered on the bus.
func (c *Client) ListNames() ([]string, error) {
	var names []string
	if err := c.conn.BusObject().Call(listNames, 0).Store(&names); err != nil {
		return nil, fmt.Errorf("busclient: list names: %w", err)
	}
	return names, nil
}

// OwnerPID returns the PID of the process that owns busName, used to attach
// internal/procmon to the right process before fuzzing begins.
func (c *Client) OwnerPID(busName string) (int, error) {
	var pid uint32
	if err := c.conn.BusObject().Call(ownerPID, 0, busName).Store(&pid); err != nil {
		return 0, fmt.Errorf("busclient: owner pid of %s: %w", busName, err)
	}
	return int(pid), nil
}

// CallResult is the outcome of a single method invocation: a reply body, a
// remote error, or a timeout.
type CallResult struct {
	TimedOut  bool
	RemoteErr error
	Body      []any
}

// Invoker is the slice of Client that internal/fuzzengine depends on,
// narrow enough that tests can substitute a fake bus without dialing a
// real connection.
type Invoker interface {
	Invoke(ctx context.Context, target busmodel.BusTarget, interfaceName, methodName string, args []any) (CallResult, error)
}

// Invoke calls interfaceName.methodName on (busName, objectPath) with args
// as the flattened top-level tuple body, per the IPC convention that method
// bodies are constructed as top-level tuples even for a single argument.
// Every call waits for a reply, including calls to methods annotated
// NoReply: a well-behaved one simply never answers (the timeout covers
// that), and one that does answer with a non-empty body is exactly the
// misbehavior the caller wants to observe.
func (c *Client) Invoke(ctx context.Context, target busmodel.BusTarget, interfaceName, methodName string, args []any) (CallResult, error) {
	obj := c.conn.Object(target.Name, dbus.ObjectPath(target.ObjectPath))
	fullMethod := interfaceName + "." + methodName

	callCtx := ctx
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) <= 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
	}
	call := obj.CallWithContext(callCtx, fullMethod, 0, args...)
	if call.Err == context.DeadlineExceeded {
		return CallResult{TimedOut: true}, nil
	}
	if dbusErr, ok := call.Err.(dbus.Error); ok {
		return CallResult{RemoteErr: dbusErr}, nil
	}
	if call.Err != nil {
		return CallResult{}, fmt.Errorf("busclient: call %s: %w", fullMethod, call.Err)
	}
	return CallResult{Body: call.Body}, nil
}

// WellKnown reports the bus driver's own name, useful for skipping the bus
// driver itself when a caller enumerates names to fuzz.
func WellKnown() string { return busDriverName }
