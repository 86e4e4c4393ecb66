package dbusapi

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanwedge/internal/scanner"
)

type fakeController struct {
	resets, enables, disables int
	connected                 bool
}

func (f *fakeController) Reset()                 { f.resets++ }
func (f *fakeController) Enable()                { f.enables++ }
func (f *fakeController) Disable()               { f.disables++ }
func (f *fakeController) ScannerConnected() bool { return f.connected }
func (f *fakeController) Status() scanner.Status {
	return scanner.Status{Enabled: true, Listening: true, State: "idle", Thresholds: scanner.DefaultThresholds()}
}

type emitted struct {
	path   dbus.ObjectPath
	name   string
	values []interface{}
}

type fakeConn struct {
	exports map[string]interface{}
	emits   []emitted
	reply   dbus.RequestNameReply
	closed  bool
	emitErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{exports: map[string]interface{}{}, reply: dbus.RequestNameReplyPrimaryOwner}
}

func (c *fakeConn) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	c.exports[string(path)+"|"+iface] = v
	return nil
}

func (c *fakeConn) Emit(path dbus.ObjectPath, name string, values ...interface{}) error {
	if c.emitErr != nil {
		return c.emitErr
	}
	c.emits = append(c.emits, emitted{path, name, values})
	return nil
}

func (c *fakeConn) RequestName(string, dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	return c.reply, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestStartExportsObject(t *testing.T) {
	ctrl := &fakeController{connected: true}
	conn := newFakeConn()
	svc := New(ctrl, nil)
	require.NoError(t, svc.Start(conn))

	obj, ok := conn.exports[string(ObjectPath)+"|"+Interface].(*busObject)
	require.True(t, ok)

	assert.Nil(t, obj.Reset())
	assert.Nil(t, obj.Enable())
	assert.Nil(t, obj.Disable())
	assert.Equal(t, 1, ctrl.resets)
	assert.Equal(t, 1, ctrl.enables)
	assert.Equal(t, 1, ctrl.disables)

	connected, derr := obj.ScannerConnected()
	assert.Nil(t, derr)
	assert.True(t, connected)

	raw, derr := obj.Status()
	require.Nil(t, derr)
	var st scanner.Status
	require.NoError(t, json.Unmarshal([]byte(raw), &st))
	assert.True(t, st.Listening)
	assert.Equal(t, 4, st.Thresholds.MinLength)

	intro, ok := conn.exports[string(ObjectPath)+"|org.freedesktop.DBus.Introspectable"].(introspect.Introspectable)
	require.True(t, ok)
	xml, derr := intro.Introspect()
	require.Nil(t, derr)
	assert.Contains(t, xml, `<signal name="Scanned">`)
}

func TestStartNameTaken(t *testing.T) {
	conn := newFakeConn()
	conn.reply = dbus.RequestNameReplyExists
	err := New(&fakeController{}, nil).Start(conn)
	assert.True(t, errors.Is(err, ErrNameTaken))
}

func TestDeliverEmitsSignal(t *testing.T) {
	conn := newFakeConn()
	svc := New(&fakeController{}, nil)
	assert.Equal(t, "dbus", svc.Name())

	r := scanner.Result{Code: "4006381333931", Suffix: scanner.SuffixTab, EndedAt: time.Now()}
	assert.True(t, errors.Is(svc.Deliver(context.Background(), r), ErrNotStarted))

	require.NoError(t, svc.Start(conn))
	require.NoError(t, svc.Deliver(context.Background(), r))
	require.Len(t, conn.emits, 1)
	assert.Equal(t, ObjectPath, conn.emits[0].path)
	assert.Equal(t, ScannedSignal, conn.emits[0].name)
	assert.Equal(t, []interface{}{"4006381333931", "tab"}, conn.emits[0].values)

	conn.emitErr = errors.New("bus gone")
	assert.Error(t, svc.Deliver(context.Background(), r))
}

func TestClose(t *testing.T) {
	conn := newFakeConn()
	svc := New(&fakeController{}, nil)
	assert.NoError(t, svc.Close())

	require.NoError(t, svc.Start(conn))
	require.NoError(t, svc.Close())
	assert.True(t, conn.closed)
	assert.True(t, errors.Is(svc.Deliver(context.Background(), scanner.Result{}), ErrNotStarted))
}
