package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/netwatch-io/presence-mon/internal/netlock"
	"github.com/netwatch-io/presence-mon/internal/testutil"
	"github.com/netwatch-io/presence-mon/pkg/types"
)

type mockEvaluatorStore struct {
	mu       sync.Mutex
	networks []types.Network
	devices  map[int64][]types.Device
	latest   map[int64]*types.StatusHistoryEntry

	// afterList, when set, runs once ListNetworks has taken its snapshot.
	// Lets tests mutate the store between the listing and the lock.
	afterList func()
}

func (m *mockEvaluatorStore) ListNetworks(context.Context) ([]types.Network, error) {
	m.mu.Lock()
	out := make([]types.Network, len(m.networks))
	copy(out, m.networks)
	m.mu.Unlock()
	if m.afterList != nil {
		m.afterList()
	}
	return out, nil
}

func (m *mockEvaluatorStore) GetNetwork(_ context.Context, id int64) (*types.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.networks {
		if m.networks[i].ID == id {
			cp := m.networks[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockEvaluatorStore) ListDevices(_ context.Context, networkID int64) ([]types.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Device, len(m.devices[networkID]))
	copy(out, m.devices[networkID])
	return out, nil
}

func (m *mockEvaluatorStore) GetLatestHistoryEntry(_ context.Context, deviceID int64) (*types.StatusHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.latest[deviceID]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

// transition records one opened or closed alert.
type transition struct {
	open     bool
	kind     types.AlertType
	network  string
	deviceID int64 // 0 for network-level
	message  string
}

type mockManager struct {
	mu     sync.Mutex
	nextID int64
	events []transition
}

func (m *mockManager) Open(_ context.Context, alertType types.AlertType, network *types.Network, device *types.Device, message string) (*types.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ev := transition{open: true, kind: alertType, network: network.Name, message: message}
	a := &types.Alert{ID: m.nextID, NetworkID: network.ID, Type: alertType, Message: message}
	if device != nil {
		ev.deviceID = device.ID
		id := device.ID
		a.DeviceID = &id
		alertID := a.ID
		device.ActiveAlertID = &alertID
	} else {
		alertID := a.ID
		network.ActiveAlertID = &alertID
	}
	m.events = append(m.events, ev)
	return a, nil
}

func (m *mockManager) Close(_ context.Context, network *types.Network, device *types.Device, message string) (*types.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := transition{network: network.Name, message: message}
	if device != nil {
		ev.deviceID = device.ID
		device.ActiveAlertID = nil
	} else {
		network.ActiveAlertID = nil
	}
	m.events = append(m.events, ev)
	return &types.Alert{NetworkID: network.ID}, nil
}

func newTestWorker(store *mockEvaluatorStore) (*EvaluatorWorker, *mockManager) {
	mgr := &mockManager{}
	w := NewEvaluatorWorker(store, mgr, netlock.New(), DefaultEvaluatorWorkerConfig(), testutil.NewTestLogger())
	return w, mgr
}

var testNow = testutil.FixtureTime

func freezeClock(w *EvaluatorWorker) {
	w.now = func() time.Time { return testNow }
}

func alertID(id int64) *int64 { return &id }

func TestStaleNetworkOpensNetworkDown(t *testing.T) {
	store := &mockEvaluatorStore{
		networks: []types.Network{*testutil.FixtureStaleNetwork()},
	}
	w, mgr := newTestWorker(store)
	freezeClock(w)

	w.runOnce(context.Background())

	if len(mgr.events) != 1 {
		t.Fatalf("got %d transitions, want 1", len(mgr.events))
	}
	ev := mgr.events[0]
	if !ev.open || ev.kind != types.AlertNetworkDown || ev.deviceID != 0 {
		t.Errorf("transition = %+v, want network-down open", ev)
	}
}

func TestStaleNetworkSkipsDevices(t *testing.T) {
	store := &mockEvaluatorStore{
		networks: []types.Network{*testutil.FixtureStaleNetwork()},
		devices: map[int64][]types.Device{
			1: {*testutil.FixtureAlwaysOnDevice(func(d *types.Device) {
				d.ID = 7
				d.Online = false
				d.LastSeen = testNow.Add(-time.Hour)
			})},
		},
	}
	w, mgr := newTestWorker(store)
	freezeClock(w)

	w.runOnce(context.Background())

	for _, ev := range mgr.events {
		if ev.deviceID != 0 {
			t.Errorf("device transition %+v while network is down", ev)
		}
	}
}

func TestStaleNetworkWithOpenAlertDoesNotReopen(t *testing.T) {
	store := &mockEvaluatorStore{
		networks: []types.Network{*testutil.FixtureStaleNetwork(func(n *types.Network) {
			n.ActiveAlertID = alertID(42)
		})},
	}
	w, mgr := newTestWorker(store)
	freezeClock(w)

	w.runOnce(context.Background())

	if len(mgr.events) != 0 {
		t.Fatalf("got %d transitions, want 0", len(mgr.events))
	}
}

func TestSnapshotLandingAfterListOpensNoAlert(t *testing.T) {
	// A snapshot can commit between the network listing and the per-network
	// lock acquisition. The row must be judged as it stands under the lock,
	// not from the listed copy, or a freshly reporting network would get a
	// false network alert and the stale copy written back over it.
	store := &mockEvaluatorStore{
		networks: []types.Network{*testutil.FixtureStaleNetwork()},
	}
	store.afterList = func() {
		store.mu.Lock()
		store.networks[0].LastSeen = testNow
		store.mu.Unlock()
	}
	w, mgr := newTestWorker(store)
	freezeClock(w)

	w.runOnce(context.Background())

	if len(mgr.events) != 0 {
		t.Fatalf("got %d transitions, want none for a freshly reporting network", len(mgr.events))
	}
	if got := store.networks[0].LastSeen; !got.Equal(testNow) {
		t.Errorf("last_seen = %v, want the fresh %v preserved", got, testNow)
	}
}

func TestNetworkRemovedAfterListIsSkipped(t *testing.T) {
	store := &mockEvaluatorStore{
		networks: []types.Network{*testutil.FixtureStaleNetwork()},
	}
	store.afterList = func() {
		store.mu.Lock()
		store.networks = nil
		store.mu.Unlock()
	}
	w, mgr := newTestWorker(store)
	freezeClock(w)

	w.runOnce(context.Background())

	if len(mgr.events) != 0 {
		t.Fatalf("got %d transitions, want none for a vanished network", len(mgr.events))
	}
}

func TestFreshNetworkClosesNetworkDown(t *testing.T) {
	store := &mockEvaluatorStore{
		networks: []types.Network{*testutil.FixtureNetwork(func(n *types.Network) {
			n.ActiveAlertID = alertID(42)
		})},
	}
	w, mgr := newTestWorker(store)
	freezeClock(w)

	w.runOnce(context.Background())

	if len(mgr.events) != 1 {
		t.Fatalf("got %d transitions, want 1", len(mgr.events))
	}
	if ev := mgr.events[0]; ev.open || ev.deviceID != 0 {
		t.Errorf("transition = %+v, want network-level close", ev)
	}
}

func TestVanishedUnauthorizedDeviceClosesAlert(t *testing.T) {
	store := &mockEvaluatorStore{
		networks: []types.Network{*testutil.FixtureNetwork()},
		devices: map[int64][]types.Device{
			1: {*testutil.FixtureUnauthorizedDevice(func(d *types.Device) {
				d.ID = 7
				d.Online = false
				d.LastSeen = testNow.Add(-10 * time.Minute)
				d.ActiveAlertID = alertID(5)
			})},
		},
	}
	w, mgr := newTestWorker(store)
	freezeClock(w)

	w.runOnce(context.Background())

	if len(mgr.events) != 1 {
		t.Fatalf("got %d transitions, want 1", len(mgr.events))
	}
	if ev := mgr.events[0]; ev.open || ev.deviceID != 7 {
		t.Errorf("transition = %+v, want close for device 7", ev)
	}
}

func TestPresentUnauthorizedDeviceKeepsAlert(t *testing.T) {
	store := &mockEvaluatorStore{
		networks: []types.Network{*testutil.FixtureNetwork()},
		devices: map[int64][]types.Device{
			1: {*testutil.FixtureUnauthorizedDevice(func(d *types.Device) {
				d.ID = 7
				d.LastSeen = testNow.Add(-time.Minute)
				d.ActiveAlertID = alertID(5)
			})},
		},
	}
	w, mgr := newTestWorker(store)
	freezeClock(w)

	w.runOnce(context.Background())

	if len(mgr.events) != 0 {
		t.Fatalf("got %d transitions, want 0", len(mgr.events))
	}
}

func TestAuthorizedDeviceClosesLeftoverAlert(t *testing.T) {
	store := &mockEvaluatorStore{
		networks: []types.Network{*testutil.FixtureNetwork()},
		devices: map[int64][]types.Device{
			1: {*testutil.FixtureDevice(func(d *types.Device) {
				d.ID = 7
				d.ActiveAlertID = alertID(5)
			})},
		},
	}
	w, mgr := newTestWorker(store)
	freezeClock(w)

	w.runOnce(context.Background())

	if len(mgr.events) != 1 {
		t.Fatalf("got %d transitions, want 1", len(mgr.events))
	}
	ev := mgr.events[0]
	if ev.open || ev.message != "device is now authorized" {
		t.Errorf("transition = %+v, want authorize close", ev)
	}
}

func TestStaleAlwaysOnDeviceOpensDeviceDown(t *testing.T) {
	store := &mockEvaluatorStore{
		networks: []types.Network{*testutil.FixtureNetwork()},
		devices: map[int64][]types.Device{
			1: {*testutil.FixtureAlwaysOnDevice(func(d *types.Device) {
				d.ID = 7
				d.Online = false
				d.LastSeen = testNow.Add(-10 * time.Minute)
			})},
		},
	}
	w, mgr := newTestWorker(store)
	freezeClock(w)

	w.runOnce(context.Background())

	if len(mgr.events) != 1 {
		t.Fatalf("got %d transitions, want 1", len(mgr.events))
	}
	ev := mgr.events[0]
	if !ev.open || ev.kind != types.AlertDeviceDown || ev.deviceID != 7 {
		t.Errorf("transition = %+v, want device-down open", ev)
	}
}

func TestAlwaysOnRecoveryWaitsForHysteresis(t *testing.T) {
	// Device came back 10 seconds ago: inside the 5-minute delay + 30s margin
	// window, so the alert must stay open.
	store := &mockEvaluatorStore{
		networks: []types.Network{*testutil.FixtureNetwork()},
		devices: map[int64][]types.Device{
			1: {*testutil.FixtureAlwaysOnDevice(func(d *types.Device) {
				d.ID = 7
				d.LastSeen = testNow.Add(-10 * time.Second)
				d.ActiveAlertID = alertID(5)
			})},
		},
		latest: map[int64]*types.StatusHistoryEntry{
			7: {DeviceID: 7, Online: true, Timestamp: testNow.Add(-10 * time.Second)},
		},
	}
	w, mgr := newTestWorker(store)
	freezeClock(w)

	w.runOnce(context.Background())

	if len(mgr.events) != 0 {
		t.Fatalf("got %d transitions, want alert kept open during hysteresis", len(mgr.events))
	}
}

func TestAlwaysOnRecoveryClosesAfterHysteresis(t *testing.T) {
	// Back online since before the closure threshold (delay 300s, margin 30s:
	// threshold is now-270s), so the alert closes.
	store := &mockEvaluatorStore{
		networks: []types.Network{*testutil.FixtureNetwork()},
		devices: map[int64][]types.Device{
			1: {*testutil.FixtureAlwaysOnDevice(func(d *types.Device) {
				d.ID = 7
				d.LastSeen = testNow.Add(-time.Minute)
				d.ActiveAlertID = alertID(5)
			})},
		},
		latest: map[int64]*types.StatusHistoryEntry{
			7: {DeviceID: 7, Online: true, Timestamp: testNow.Add(-6 * time.Minute)},
		},
	}
	w, mgr := newTestWorker(store)
	freezeClock(w)

	w.runOnce(context.Background())

	if len(mgr.events) != 1 {
		t.Fatalf("got %d transitions, want 1", len(mgr.events))
	}
	if ev := mgr.events[0]; ev.open || ev.deviceID != 7 {
		t.Errorf("transition = %+v, want device close", ev)
	}
}

func TestOfflineAlwaysOnDeviceKeepsAlertOpen(t *testing.T) {
	// Still down: the stale offline history row must not close the alert.
	store := &mockEvaluatorStore{
		networks: []types.Network{*testutil.FixtureNetwork()},
		devices: map[int64][]types.Device{
			1: {*testutil.FixtureAlwaysOnDevice(func(d *types.Device) {
				d.ID = 7
				d.Online = false
				d.LastSeen = testNow.Add(-time.Hour)
				d.ActiveAlertID = alertID(5)
			})},
		},
		latest: map[int64]*types.StatusHistoryEntry{
			7: {DeviceID: 7, Online: false, Timestamp: testNow.Add(-time.Hour)},
		},
	}
	w, mgr := newTestWorker(store)
	freezeClock(w)

	w.runOnce(context.Background())

	if len(mgr.events) != 0 {
		t.Fatalf("got %d transitions, want alert kept open while device is down", len(mgr.events))
	}
}

func TestClosureMargin(t *testing.T) {
	cases := []struct {
		delay time.Duration
		want  time.Duration
	}{
		{300 * time.Second, 30 * time.Second},
		{100 * time.Second, 10 * time.Second},
		{3600 * time.Second, 30 * time.Second}, // capped
		{0, 0},
	}
	for _, tc := range cases {
		if got := closureMargin(tc.delay); got != tc.want {
			t.Errorf("closureMargin(%v) = %v, want %v", tc.delay, got, tc.want)
		}
	}
}

func TestStartStop(t *testing.T) {
	store := &mockEvaluatorStore{}
	w, _ := newTestWorker(store)
	w.config.InitialDelay = time.Hour // never fires during the test
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	w.Stop()
}
