package chainpost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/bmayton/chainpost/pkg/hypermedia"
)

// fakeAPI is an in-memory Chain site: a devices collection whose members get a
// sensors collection, whose members get a dataHistory collection.
type fakeAPI struct {
	site      *fakeRes
	devices   *fakeColl
	sensors   map[string]*fakeColl
	histories map[string]*fakeColl

	calls    int
	fetches  int
	fetchErr error
	auths    []hypermedia.Credentials
}

func newFakeAPI() *fakeAPI {
	a := &fakeAPI{
		sensors:   map[string]*fakeColl{},
		histories: map[string]*fakeColl{},
	}
	a.devices = a.collection("/devices", a.newDevice)
	a.site = a.resource("/", map[string]any{"name": "test site"}, map[string]*fakeColl{relDevices: a.devices})
	return a
}

func (a *fakeAPI) record(opts []hypermedia.RequestOption) hypermedia.RequestOptions {
	a.calls++
	o := hypermedia.Apply(opts...)
	a.auths = append(a.auths, o.Auth)
	return o
}

func (a *fakeAPI) Fetch(_ context.Context, _ string, opts ...hypermedia.RequestOption) (hypermedia.Resource, error) {
	a.record(opts)
	a.fetches++
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	return a.site, nil
}

func (a *fakeAPI) resource(url string, attrs map[string]any, rels map[string]*fakeColl) *fakeRes {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &fakeRes{api: a, url: url, attrs: attrs, rels: rels}
}

func (a *fakeAPI) collection(url string, newMember func(map[string]any) *fakeRes) *fakeColl {
	return &fakeColl{fakeRes: *a.resource(url, nil, nil), newMember: newMember}
}

func (a *fakeAPI) newDevice(body map[string]any) *fakeRes {
	name := body["name"].(string)
	url := "/devices/" + name
	sensors := a.collection(url+"/sensors", func(body map[string]any) *fakeRes {
		metric := body["metric"].(string)
		history := a.collection(url+"/sensors/"+metric+"/data", nil)
		a.histories[name+"/"+metric] = history
		return a.resource(url+"/sensors/"+metric, body, map[string]*fakeColl{relDataHistory: history})
	})
	a.sensors[name] = sensors
	return a.resource(url, body, map[string]*fakeColl{relSensors: sensors})
}

// addDevice seeds a device that already exists on the server.
func (a *fakeAPI) addDevice(name string) {
	a.devices.members = append(a.devices.members, a.newDevice(map[string]any{"name": name}))
}

// addSensor seeds a sensor on a device added with addDevice.
func (a *fakeAPI) addSensor(device, metric, unit string) *fakeColl {
	coll := a.sensors[device]
	coll.members = append(coll.members, coll.newMember(map[string]any{"metric": metric, "unit": unit}))
	return a.histories[device+"/"+metric]
}

type fakeRes struct {
	api    *fakeAPI
	url    string
	attrs  map[string]any
	rels   map[string]*fakeColl
	relErr error
}

func (r *fakeRes) URL() string { return r.url }

func (r *fakeRes) Attr(name string) (any, bool) {
	v, ok := r.attrs[name]
	return v, ok
}

func (r *fakeRes) String(name string) string {
	s, _ := r.attrs[name].(string)
	return s
}

func (r *fakeRes) Relation(_ context.Context, rel string, opts ...hypermedia.RequestOption) (hypermedia.Collection, error) {
	r.api.record(opts)
	if r.relErr != nil {
		return nil, r.relErr
	}
	c, ok := r.rels[rel]
	if !ok {
		return nil, fmt.Errorf("no relation %q on %s", rel, r.url)
	}
	return c, nil
}

type fakeColl struct {
	fakeRes
	newMember func(map[string]any) *fakeRes

	members     []hypermedia.Resource
	created     []any
	createOpts  []hypermedia.RequestOptions
	createErr   error
	createPanic bool
	itemsErr    error
}

func (c *fakeColl) Items(_ context.Context, opts ...hypermedia.RequestOption) ([]hypermedia.Resource, error) {
	c.api.record(opts)
	if c.itemsErr != nil {
		return nil, c.itemsErr
	}
	return append([]hypermedia.Resource(nil), c.members...), nil
}

func (c *fakeColl) Create(_ context.Context, body any, opts ...hypermedia.RequestOption) (hypermedia.Resource, error) {
	o := c.api.record(opts)
	if c.createPanic {
		panic("boom")
	}
	if c.createErr != nil {
		return nil, c.createErr
	}
	c.created = append(c.created, body)
	c.createOpts = append(c.createOpts, o)

	if c.newMember == nil {
		return c.api.resource(c.url+"/new", nil, nil), nil
	}
	m := c.newMember(body.(map[string]any))
	c.members = append(c.members, m)
	return m, nil
}

func connErr() error {
	return &hypermedia.ConnectionError{Op: "GET", URL: "/", Err: errors.New("connection refused")}
}

// captureHandler records log records for assertion in tests.
type captureHandler struct {
	mu    sync.Mutex
	attrs []map[string]slog.Value
}

func (h *captureHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := make(map[string]slog.Value)
	m["msg"] = slog.StringValue(r.Message)
	m["level"] = slog.StringValue(r.Level.String())
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value
		return true
	})
	h.attrs = append(h.attrs, m)
	return nil
}

func (h *captureHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(_ string) slog.Handler { return h }

func (h *captureHandler) recordsFor(t *testing.T, msg string) []map[string]slog.Value {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []map[string]slog.Value
	for _, m := range h.attrs {
		if m["msg"].String() == msg {
			out = append(out, m)
		}
	}
	return out
}
