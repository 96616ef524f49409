package lifecycle

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/devicerelay/internal/runtime/hub"
	"github.com/drblury/devicerelay/internal/runtime/logging"
	"github.com/drblury/devicerelay/internal/runtime/registry"
	"github.com/drblury/devicerelay/internal/runtime/relay"
)

type recordingPeer struct {
	id     string
	mu     sync.Mutex
	frames []relay.Envelope
}

func (p *recordingPeer) ID() string { return p.id }

func (p *recordingPeer) Send(frame []byte) bool {
	var env relay.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		panic(err)
	}
	p.mu.Lock()
	p.frames = append(p.frames, env)
	p.mu.Unlock()
	return true
}

func (p *recordingPeer) take() []relay.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.frames
	p.frames = nil
	return out
}

type fixture struct {
	reg   *registry.Registry
	hub   *hub.Hub
	ctrl  *Controller
	peers map[string]*recordingPeer
}

func newFixture() *fixture {
	reg := registry.New()
	h := hub.New()
	router := relay.NewRouter(reg, h, logging.Nop())
	return &fixture{
		reg:   reg,
		hub:   h,
		ctrl:  New(reg, router, logging.Nop()),
		peers: map[string]*recordingPeer{},
	}
}

// connect mimics the gateway: add the peer to the hub, then publish session-opened.
func (f *fixture) connect(id string) []relay.Delivery {
	p := &recordingPeer{id: id}
	f.peers[id] = p
	f.hub.Add(p)
	return f.ctrl.Handle(relay.Event{
		Name:   relay.EventSessionOpened,
		Sender: id,
		Connection: registry.ConnectInfo{
			RemoteAddress: "ip-" + id,
			UserAgent:     "test",
			ConnectedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	})
}

func (f *fixture) disconnect(id string) []relay.Delivery {
	f.hub.Remove(id)
	return f.ctrl.Handle(relay.Event{Name: relay.EventSessionClosed, Sender: id})
}

func (f *fixture) register(id, name string) []relay.Delivery {
	return f.ctrl.Handle(relay.Event{
		Name:   relay.EventRegisterDevice,
		Sender: id,
		Data:   []byte(fmt.Sprintf(`{"deviceName":%q}`, name)),
	})
}

func (f *fixture) drain() {
	for _, p := range f.peers {
		p.take()
	}
}

func rosterIDs(t *testing.T, env relay.Envelope) []string {
	t.Helper()
	require.Equal(t, relay.EventDevicesUpdated, env.Event)
	var roster []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &roster))
	require.NotNil(t, roster)
	ids := make([]string, 0, len(roster))
	for _, entry := range roster {
		ids = append(ids, entry["id"].(string))
	}
	sort.Strings(ids)
	return ids
}

func TestOpenGreetsNewPeer(t *testing.T) {
	f := newFixture()
	f.connect("A")
	f.register("A", "phone1")
	f.drain()

	deliveries := f.connect("B")
	require.Len(t, deliveries, 2)
	assert.Equal(t, 1, deliveries[0].Recipients)

	frames := f.peers["B"].take()
	require.Len(t, frames, 2)
	assert.Equal(t, relay.EventConnected, frames[0].Event)
	assert.JSONEq(t, `{"sessionId":"B"}`, string(frames[0].Data))
	assert.Equal(t, []string{"A"}, rosterIDs(t, frames[1]))
	assert.Empty(t, f.peers["A"].take())

	assert.Equal(t, StateConnected, f.ctrl.State("B"))
	_, registered := f.reg.Lookup("B")
	assert.False(t, registered)
}

func TestRegisterBroadcastsRosterToEveryone(t *testing.T) {
	f := newFixture()
	f.connect("A")
	f.connect("B")
	f.drain()

	f.register("A", "phone1")

	for _, id := range []string{"A", "B"} {
		frames := f.peers[id].take()
		require.Len(t, frames, 1, id)
		assert.Equal(t, []string{"A"}, rosterIDs(t, frames[0]))
	}
	s, ok := f.reg.Lookup("A")
	require.True(t, ok)
	assert.Equal(t, "ip-A", s.RemoteAddress)
	assert.Equal(t, "phone1", s.DeviceName())
	assert.Equal(t, StateRegistered, f.ctrl.State("A"))
}

func TestReRegisterOverwrites(t *testing.T) {
	f := newFixture()
	f.connect("A")
	f.register("A", "old")
	f.register("A", "new")

	assert.Equal(t, 1, f.reg.Len())
	s, _ := f.reg.Lookup("A")
	assert.Equal(t, "new", s.DeviceName())
}

func TestRegisterKeepsDeclaredNumbersExact(t *testing.T) {
	f := newFixture()
	f.connect("A")
	f.drain()

	f.ctrl.Handle(relay.Event{
		Name:   relay.EventRegisterDevice,
		Sender: "A",
		Data:   []byte(`{"deviceName":"phone1","serial":9007199254740993,"apiLevel":34}`),
	})

	frames := f.peers["A"].take()
	require.Len(t, frames, 1)
	assert.Contains(t, string(frames[0].Data), `"serial":9007199254740993`)
	assert.Contains(t, string(frames[0].Data), `"apiLevel":34`)

	s, ok := f.reg.Lookup("A")
	require.True(t, ok)
	assert.Equal(t, "phone1", s.DeviceName())
	assert.Equal(t, json.Number("9007199254740993"), s.DeviceInfo["serial"])
}

func TestRegisterWithNonObjectData(t *testing.T) {
	f := newFixture()
	f.connect("A")

	f.ctrl.Handle(relay.Event{Name: relay.EventRegisterDevice, Sender: "A", Data: []byte(`"just a string"`)})

	s, ok := f.reg.Lookup("A")
	require.True(t, ok)
	assert.Empty(t, s.DeviceInfo)
}

func TestRegisterWithoutOpen(t *testing.T) {
	f := newFixture()

	f.register("X", "ghost")

	s, ok := f.reg.Lookup("X")
	require.True(t, ok)
	assert.Equal(t, "X", s.ID)
	assert.Empty(t, s.RemoteAddress)
}

func TestCloseRemovesAndRebroadcasts(t *testing.T) {
	f := newFixture()
	for _, id := range []string{"A", "B", "C"} {
		f.connect(id)
		f.register(id, "dev-"+id)
	}
	f.drain()

	deliveries := f.disconnect("B")
	require.Len(t, deliveries, 1)
	assert.Equal(t, 2, deliveries[0].Recipients)

	for _, id := range []string{"A", "C"} {
		frames := f.peers[id].take()
		require.Len(t, frames, 1)
		assert.Equal(t, []string{"A", "C"}, rosterIDs(t, frames[0]))
	}
	assert.Equal(t, StateClosed, f.ctrl.State("B"))

	out := f.ctrl.Handle(relay.Event{Name: relay.EventRemoteStopCamera, Sender: "A", Data: []byte(`"B"`)})
	require.Len(t, out, 1)
	assert.Zero(t, out[0].Recipients)
	assert.Empty(t, f.peers["B"].take())
}

func TestCloseOfUnregisteredStillRebroadcasts(t *testing.T) {
	f := newFixture()
	f.connect("A")
	f.connect("B")
	f.drain()

	deliveries := f.disconnect("B")
	require.Len(t, deliveries, 1)
	frames := f.peers["A"].take()
	require.Len(t, frames, 1)
	assert.Empty(t, rosterIDs(t, frames[0]))
}

func TestEventsAfterCloseIgnored(t *testing.T) {
	f := newFixture()
	f.connect("A")
	f.connect("B")
	f.disconnect("A")
	f.drain()

	assert.Nil(t, f.ctrl.Handle(relay.Event{Name: relay.EventRegisterDevice, Sender: "A", Data: []byte(`{}`)}))
	assert.Nil(t, f.ctrl.Handle(relay.Event{Name: relay.EventShareScreen, Sender: "A", Data: []byte(`{}`)}))
	assert.Nil(t, f.ctrl.Handle(relay.Event{Name: relay.EventSessionClosed, Sender: "A"}))
	assert.Nil(t, f.ctrl.Handle(relay.Event{Name: relay.EventSessionOpened, Sender: "A"}))
	assert.Zero(t, f.reg.Len())
	assert.Empty(t, f.peers["B"].take())
}

func TestUnregisteredSenderStillRelays(t *testing.T) {
	f := newFixture()
	f.connect("A")
	f.connect("B")
	f.drain()

	out := f.ctrl.Handle(relay.Event{Name: relay.EventShareLocation, Sender: "A", Data: []byte(`{"lat":1}`)})
	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0].Recipients)

	frames := f.peers["B"].take()
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"lat":1}`, string(frames[0].Data))
}

func TestTombstonesBounded(t *testing.T) {
	f := newFixture()
	f.ctrl.maxTombs = 2

	f.ctrl.Close("a")
	f.ctrl.Close("b")
	f.ctrl.Close("c")

	assert.Equal(t, StateUnknown, f.ctrl.State("a"))
	assert.Equal(t, StateClosed, f.ctrl.State("b"))
	assert.Equal(t, StateClosed, f.ctrl.State("c"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "registered", StateRegistered.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", StateUnknown.String())
}

// Every roster broadcast must equal the registered, still-open sessions.
func TestRosterMatchesModelUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	f := newFixture()

	open := map[string]bool{}
	registered := map[string]bool{}
	next := 0

	expected := func() []string {
		ids := []string{}
		for id := range registered {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids
	}
	pick := func() string {
		ids := make([]string, 0, len(open))
		for id := range open {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids[rng.IntN(len(ids))]
	}

	for step := 0; step < 500; step++ {
		switch op := rng.IntN(3); {
		case op == 0 || len(open) == 0:
			id := fmt.Sprintf("s%03d", next)
			next++
			f.connect(id)
			open[id] = true
			f.drain()
		case op == 1:
			id := pick()
			f.register(id, "dev")
			registered[id] = true
			for peerID := range open {
				frames := f.peers[peerID].take()
				require.Len(t, frames, 1)
				assert.Equal(t, expected(), rosterIDs(t, frames[0]), "step %d", step)
			}
		default:
			id := pick()
			f.disconnect(id)
			delete(open, id)
			delete(registered, id)
			for peerID := range open {
				frames := f.peers[peerID].take()
				require.Len(t, frames, 1)
				assert.Equal(t, expected(), rosterIDs(t, frames[0]), "step %d", step)
			}
		}
		assert.Equal(t, len(registered), f.reg.Len())
	}
}
