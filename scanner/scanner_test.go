package scanner_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robomow/amble/internal/testutils"
	"github.com/robomow/amble/internal/wire"
	"github.com/robomow/amble/scanner"
)

func mowerAdvertisement(addr, name string, rssi int) *testutils.FakeAdvertisement {
	profile, _ := wire.Lookup("husqvarna")
	return &testutils.FakeAdvertisement{
		Address:      addr,
		Name:         name,
		Rssi:         rssi,
		ServiceUUIDs: []string{profile.ServiceUUID},
	}
}

func newScanner(t *testing.T, transport *testutils.FakeTransport) *scanner.Scanner {
	t.Helper()
	s, err := scanner.New(transport, testutils.NewTestHelper(t).Logger)
	require.NoError(t, err)
	return s
}

func TestScan_FiltersToKnownProfiles(t *testing.T) {
	// GOAL: Verify only devices advertising a registered profile's
	// service UUID are reported
	//
	// TEST SCENARIO: One mower and one unrelated device advertise ->
	// only the mower is in the result, tagged with its profile

	transport := testutils.NewFakeTransport().Advertise(
		mowerAdvertisement("AA:BB:CC:DD:EE:FF", "Automower 305", -60),
		&testutils.FakeAdvertisement{
			Address:      "11:22:33:44:55:66",
			Name:         "Fitness Tracker",
			Rssi:         -40,
			ServiceUUIDs: []string{"180d"},
		},
	)

	devices, err := newScanner(t, transport).Scan(context.Background(), nil, nil, nil)

	require.NoError(t, err)
	require.Len(t, devices, 1, "unrelated devices MUST be filtered out")
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", devices[0].Address)
	assert.Equal(t, "Automower 305", devices[0].Name)
	assert.Equal(t, "husqvarna", devices[0].Profile, "matched profile MUST be recorded")
}

func TestScan_AllDevices(t *testing.T) {
	transport := testutils.NewFakeTransport().Advertise(
		mowerAdvertisement("AA:BB:CC:DD:EE:FF", "Automower 305", -60),
		&testutils.FakeAdvertisement{Address: "11:22:33:44:55:66", Rssi: -40},
	)

	devices, err := newScanner(t, transport).Scan(context.Background(), &scanner.Options{
		AllDevices: true,
	}, nil, nil)

	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func TestScan_SortsBySignalStrength(t *testing.T) {
	transport := testutils.NewFakeTransport().Advertise(
		mowerAdvertisement("AA:AA:AA:AA:AA:01", "Far", -85),
		mowerAdvertisement("AA:AA:AA:AA:AA:02", "Near", -45),
		mowerAdvertisement("AA:AA:AA:AA:AA:03", "Mid", -60),
	)

	devices, err := newScanner(t, transport).Scan(context.Background(), nil, nil, nil)

	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, "Near", devices[0].Name, "strongest signal MUST sort first")
	assert.Equal(t, "Mid", devices[1].Name)
	assert.Equal(t, "Far", devices[2].Name)
}

func TestScan_DeduplicatesAndCountsAdvertisements(t *testing.T) {
	// GOAL: Verify repeated advertisements update one record instead of
	// producing duplicates

	adv := mowerAdvertisement("AA:BB:CC:DD:EE:FF", "Automower 305", -60)
	stronger := mowerAdvertisement("AA:BB:CC:DD:EE:FF", "Automower 305", -50)
	transport := testutils.NewFakeTransport().Advertise(adv, stronger, stronger)

	devices, err := newScanner(t, transport).Scan(context.Background(), nil, nil, nil)

	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, -50, devices[0].RSSI, "RSSI MUST track the latest advertisement")
	assert.Equal(t, 3, devices[0].Advertisements)
}

func TestScan_AllowAndBlockLists(t *testing.T) {
	transport := testutils.NewFakeTransport().Advertise(
		mowerAdvertisement("AA:AA:AA:AA:AA:01", "One", -60),
		mowerAdvertisement("AA:AA:AA:AA:AA:02", "Two", -60),
	)

	t.Run("block list hides a device", func(t *testing.T) {
		devices, err := newScanner(t, transport).Scan(context.Background(), &scanner.Options{
			BlockList: []string{"AA:AA:AA:AA:AA:01"},
		}, nil, nil)

		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "Two", devices[0].Name)
	})

	t.Run("allow list restricts to listed devices", func(t *testing.T) {
		devices, err := newScanner(t, transport).Scan(context.Background(), &scanner.Options{
			AllowList: []string{"AA:AA:AA:AA:AA:01"},
		}, nil, nil)

		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "One", devices[0].Name)
	})
}

func TestScan_EmitsEvents(t *testing.T) {
	// GOAL: Verify live observers see a New event per device and Updated
	// events for repeats

	adv := mowerAdvertisement("AA:BB:CC:DD:EE:FF", "Automower 305", -60)
	transport := testutils.NewFakeTransport().Advertise(adv, adv)

	var mu sync.Mutex
	var events []scanner.Event
	onEvent := func(e scanner.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}

	_, err := newScanner(t, transport).Scan(context.Background(), nil, onEvent, nil)

	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, scanner.EventNew, events[0].Type)
	assert.Equal(t, scanner.EventUpdated, events[1].Type)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", events[0].Device.Address)
}

func TestScan_ReportsProgressPhases(t *testing.T) {
	transport := testutils.NewFakeTransport()

	var phases []string
	_, err := newScanner(t, transport).Scan(context.Background(), nil, nil, func(phase string) {
		phases = append(phases, phase)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"Scanning", "Processing results"}, phases)
}

func TestScan_ContextCancellationIsNotAnError(t *testing.T) {
	transport := testutils.NewFakeTransport().Advertise(
		mowerAdvertisement("AA:BB:CC:DD:EE:FF", "Automower 305", -60),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	devices, err := newScanner(t, transport).Scan(ctx, &scanner.Options{Duration: time.Minute}, nil, nil)

	require.NoError(t, err, "a cancelled scan MUST return what it found")
	assert.Empty(t, devices)
}
