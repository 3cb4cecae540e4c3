package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/netwatch-io/presence-mon/internal/netlock"
	"github.com/netwatch-io/presence-mon/internal/testutil"
	"github.com/netwatch-io/presence-mon/pkg/types"
)

// mockStore implements Store in memory.
type mockStore struct {
	mu       sync.Mutex
	networks map[string]*types.Network
	devices  map[int64]*types.Device
	history  []types.StatusHistoryEntry
	nextID   int64

	listDevicesErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		networks: make(map[string]*types.Network),
		devices:  make(map[int64]*types.Device),
		nextID:   1,
	}
}

func (m *mockStore) GetOrCreateNetwork(_ context.Context, name string, seen time.Time) (*types.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.networks[name]; ok {
		cp := *n
		return &cp, nil
	}
	n := &types.Network{
		ID:            m.nextID,
		Name:          name,
		FirstSeen:     seen,
		LastSeen:      seen,
		AlertingDelay: types.DefaultAlertingDelay,
	}
	m.nextID++
	m.networks[name] = n
	cp := *n
	return &cp, nil
}

func (m *mockStore) SaveNetwork(_ context.Context, n *types.Network) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.networks[n.Name] = &cp
	return nil
}

func (m *mockStore) ListDevices(_ context.Context, networkID int64) ([]types.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listDevicesErr != nil {
		return nil, m.listDevicesErr
	}
	var out []types.Device
	for _, d := range m.devices {
		if d.NetworkID == networkID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *mockStore) CreateDevice(_ context.Context, d *types.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = m.nextID
	m.nextID++
	cp := *d
	m.devices[d.ID] = &cp
	return nil
}

func (m *mockStore) SaveDevice(_ context.Context, d *types.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.devices[d.ID] = &cp
	return nil
}

func (m *mockStore) GetCurrentlyOnlineDeviceIDs(_ context.Context, networkID int64) (map[int64]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	online := make(map[int64]bool)
	latest := make(map[int64]types.StatusHistoryEntry)
	for _, h := range m.history {
		if h.NetworkID != networkID {
			continue
		}
		prev, ok := latest[h.DeviceID]
		if !ok || h.Timestamp.After(prev.Timestamp) {
			latest[h.DeviceID] = h
		}
	}
	for id, h := range latest {
		if h.Online {
			online[id] = true
		}
	}
	return online, nil
}

func (m *mockStore) AppendHistory(_ context.Context, h *types.StatusHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, *h)
	return nil
}

func (m *mockStore) device(mac string) *types.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.MAC == mac {
			cp := *d
			return &cp
		}
	}
	return nil
}

func (m *mockStore) historyFor(deviceID int64) []types.StatusHistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.StatusHistoryEntry
	for _, h := range m.history {
		if h.DeviceID == deviceID {
			out = append(out, h)
		}
	}
	return out
}

// mockOpener records opened alerts and, like the real manager, saves the
// device with an active alert id.
type mockOpener struct {
	mu     sync.Mutex
	store  *mockStore
	opened []types.Alert
	err    error
}

func (m *mockOpener) Open(ctx context.Context, alertType types.AlertType, network *types.Network, device *types.Device, message string) (*types.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	a := types.Alert{
		ID:        int64(len(m.opened) + 1),
		NetworkID: network.ID,
		Type:      alertType,
		Message:   message,
	}
	if device != nil {
		id := device.ID
		a.DeviceID = &id
		alertID := a.ID
		device.ActiveAlertID = &alertID
		if m.store != nil {
			if err := m.store.SaveDevice(ctx, device); err != nil {
				return nil, err
			}
		}
	}
	m.opened = append(m.opened, a)
	return &a, nil
}

func newTestReconciler(store *mockStore) (*Reconciler, *mockOpener) {
	opener := &mockOpener{store: store}
	return New(store, opener, netlock.New(), testutil.NewTestLogger()), opener
}

func snapshot(ts time.Time, devices ...types.SnapshotDevice) types.Snapshot {
	return types.Snapshot{Hostname: "scanner-1", Timestamp: ts, Devices: devices}
}

func TestNewDeviceCreatedUnauthorizedWithAlert(t *testing.T) {
	store := newMockStore()
	rec, opener := newTestReconciler(store)
	ts := testutil.FixtureTime

	err := rec.Reconcile(context.Background(), "office", snapshot(ts,
		types.SnapshotDevice{IP: "10.0.0.5", MAC: "aa:bb:cc:dd:ee:ff"},
	))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	d := store.device("AA:BB:CC:DD:EE:FF")
	if d == nil {
		t.Fatal("device not created")
	}
	if d.Mode != types.ModeUnauthorized {
		t.Errorf("mode = %v, want UNAUTHORIZED", d.Mode)
	}
	if !d.Online {
		t.Error("device should be online")
	}
	if d.ActiveAlertID == nil {
		t.Error("device should carry the open alert id")
	}

	if len(opener.opened) != 1 {
		t.Fatalf("opened %d alerts, want 1", len(opener.opened))
	}
	if opener.opened[0].Message != "device detected for the first time" {
		t.Errorf("alert message = %q", opener.opened[0].Message)
	}

	hist := store.historyFor(d.ID)
	if len(hist) != 1 || !hist[0].Online {
		t.Fatalf("history = %+v, want single online entry", hist)
	}
}

func TestBlankMACIsSkipped(t *testing.T) {
	store := newMockStore()
	rec, opener := newTestReconciler(store)
	ts := testutil.FixtureTime

	err := rec.Reconcile(context.Background(), "office", snapshot(ts,
		types.SnapshotDevice{IP: "10.0.0.9", MAC: "  "},
	))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(store.devices) != 0 {
		t.Errorf("created %d devices, want 0", len(store.devices))
	}
	if len(opener.opened) != 0 {
		t.Errorf("opened %d alerts, want 0", len(opener.opened))
	}
}

func TestKnownUnauthorizedDeviceReopensAlert(t *testing.T) {
	store := newMockStore()
	rec, opener := newTestReconciler(store)
	base := testutil.FixtureTime

	if err := rec.Reconcile(context.Background(), "office", snapshot(base,
		types.SnapshotDevice{IP: "10.0.0.5", MAC: "AA:BB:CC:DD:EE:FF"},
	)); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}

	// Operator closes the alert out of band.
	d := store.device("AA:BB:CC:DD:EE:FF")
	d.ActiveAlertID = nil
	if err := store.SaveDevice(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	if err := rec.Reconcile(context.Background(), "office", snapshot(base.Add(time.Minute),
		types.SnapshotDevice{IP: "10.0.0.5", MAC: "AA:BB:CC:DD:EE:FF"},
	)); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}

	if len(opener.opened) != 2 {
		t.Fatalf("opened %d alerts, want 2", len(opener.opened))
	}
	if opener.opened[1].Message != "device was seen before" {
		t.Errorf("second alert message = %q", opener.opened[1].Message)
	}
}

func TestStillOnlineDeviceWritesNoHistory(t *testing.T) {
	store := newMockStore()
	rec, _ := newTestReconciler(store)
	base := testutil.FixtureTime
	dev := types.SnapshotDevice{IP: "10.0.0.5", MAC: "AA:BB:CC:DD:EE:FF"}

	for i := 0; i < 3; i++ {
		if err := rec.Reconcile(context.Background(), "office", snapshot(base.Add(time.Duration(i)*time.Minute), dev)); err != nil {
			t.Fatalf("Reconcile #%d: %v", i, err)
		}
	}

	d := store.device("AA:BB:CC:DD:EE:FF")
	hist := store.historyFor(d.ID)
	if len(hist) != 1 {
		t.Fatalf("history has %d entries, want 1 (no duplicates while online)", len(hist))
	}
	if !d.LastSeen.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("last seen = %v, want refreshed to latest snapshot", d.LastSeen)
	}
}

func TestAbsentDeviceGoesOffline(t *testing.T) {
	store := newMockStore()
	rec, _ := newTestReconciler(store)
	base := testutil.FixtureTime

	if err := rec.Reconcile(context.Background(), "office", snapshot(base,
		types.SnapshotDevice{IP: "10.0.0.5", MAC: "AA:BB:CC:DD:EE:FF"},
	)); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}

	// Next snapshot no longer lists the device.
	if err := rec.Reconcile(context.Background(), "office", snapshot(base.Add(time.Minute))); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}

	d := store.device("AA:BB:CC:DD:EE:FF")
	if d.Online {
		t.Error("device should be offline")
	}
	hist := store.historyFor(d.ID)
	if len(hist) != 2 {
		t.Fatalf("history has %d entries, want 2", len(hist))
	}
	last := hist[len(hist)-1]
	if last.Online {
		t.Error("latest history entry should be offline")
	}
	if last.IP != "10.0.0.5" {
		t.Errorf("offline entry IP = %q, want last known address", last.IP)
	}

	// A second absent snapshot must not duplicate the offline entry.
	if err := rec.Reconcile(context.Background(), "office", snapshot(base.Add(2 * time.Minute))); err != nil {
		t.Fatalf("third Reconcile: %v", err)
	}
	if got := len(store.historyFor(d.ID)); got != 2 {
		t.Errorf("history has %d entries after repeat absence, want 2", got)
	}
}

func TestOfflineDeviceComesBack(t *testing.T) {
	store := newMockStore()
	rec, _ := newTestReconciler(store)
	base := testutil.FixtureTime
	dev := types.SnapshotDevice{IP: "10.0.0.5", MAC: "AA:BB:CC:DD:EE:FF"}

	if err := rec.Reconcile(context.Background(), "office", snapshot(base, dev)); err != nil {
		t.Fatal(err)
	}
	if err := rec.Reconcile(context.Background(), "office", snapshot(base.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}

	// Authorize so the return does not reopen an alert.
	d := store.device("AA:BB:CC:DD:EE:FF")
	d.Mode = types.ModeAuthorized
	d.ActiveAlertID = nil
	if err := store.SaveDevice(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	dev.IP = "10.0.0.77"
	if err := rec.Reconcile(context.Background(), "office", snapshot(base.Add(2*time.Minute), dev)); err != nil {
		t.Fatal(err)
	}

	d = store.device("AA:BB:CC:DD:EE:FF")
	if !d.Online {
		t.Error("device should be back online")
	}
	if d.IP != "10.0.0.77" {
		t.Errorf("IP = %q, want refreshed address", d.IP)
	}
	hist := store.historyFor(d.ID)
	if len(hist) != 3 {
		t.Fatalf("history has %d entries, want 3", len(hist))
	}
	if !hist[2].Online || hist[2].IP != "10.0.0.77" {
		t.Errorf("final entry = %+v, want online with new address", hist[2])
	}
}

func TestReportingEMAConverges(t *testing.T) {
	store := newMockStore()
	rec, _ := newTestReconciler(store)
	base := testutil.FixtureTime

	for i := 0; i < 5; i++ {
		if err := rec.Reconcile(context.Background(), "office", snapshot(base.Add(time.Duration(i)*60*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	n := store.networks["office"]
	if n.ReportingIntervalEMA != 60 {
		t.Errorf("EMA = %d, want 60 after steady 60s snapshots", n.ReportingIntervalEMA)
	}
}

func TestReportingEMACapsHugeGaps(t *testing.T) {
	store := newMockStore()
	rec, _ := newTestReconciler(store)
	base := testutil.FixtureTime

	if err := rec.Reconcile(context.Background(), "office", snapshot(base)); err != nil {
		t.Fatal(err)
	}
	// Scanner silent for a day, then reports again.
	if err := rec.Reconcile(context.Background(), "office", snapshot(base.Add(24*time.Hour))); err != nil {
		t.Fatal(err)
	}

	n := store.networks["office"]
	if n.ReportingIntervalEMA > 3600 {
		t.Errorf("EMA = %d, want capped at one hour", n.ReportingIntervalEMA)
	}
}

func TestNetworksAreIndependent(t *testing.T) {
	store := newMockStore()
	rec, _ := newTestReconciler(store)
	ts := testutil.FixtureTime

	if err := rec.Reconcile(context.Background(), "office", snapshot(ts,
		types.SnapshotDevice{IP: "10.0.0.5", MAC: "AA:BB:CC:DD:EE:01"},
	)); err != nil {
		t.Fatal(err)
	}
	if err := rec.Reconcile(context.Background(), "warehouse", snapshot(ts,
		types.SnapshotDevice{IP: "10.1.0.5", MAC: "AA:BB:CC:DD:EE:02"},
	)); err != nil {
		t.Fatal(err)
	}

	if len(store.networks) != 2 {
		t.Fatalf("have %d networks, want 2", len(store.networks))
	}
	d1 := store.device("AA:BB:CC:DD:EE:01")
	d2 := store.device("AA:BB:CC:DD:EE:02")
	if d1.NetworkID == d2.NetworkID {
		t.Error("devices on different networks share a network id")
	}
}
