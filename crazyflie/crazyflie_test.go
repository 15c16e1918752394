package crazyflie

import (
	"testing"
	"time"

	"github.com/bitcraze/crazyflie-go/cache"
	"github.com/bitcraze/crazyflie-go/crtplink"
)

// testConfig keeps test failures fast: a missing response should fail the
// test in well under a second, not after the full production retry budget.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ResponseTimeout = 100 * time.Millisecond
	cfg.RetryCount = 2
	cfg.TocCache = cache.NewMemory()
	return cfg
}

func connectFake(t *testing.T, cfg Config) (*Crazyflie, *fakeFirmware) {
	t.Helper()
	host, vehicle := crtplink.Pipe()
	fw := newFakeFirmware(vehicle)
	cf, err := ConnectWithConfig(host, cfg)
	if err != nil {
		t.Fatalf("connect: %s", err)
	}
	t.Cleanup(cf.Disconnect)
	return cf, fw
}

func TestConnectBringsUpSubsystems(t *testing.T) {
	cf, _ := connectFake(t, testConfig())

	if got := cf.State(); got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}

	if cf.Log.Toc().Len() != 5 {
		t.Errorf("log TOC has %d entries, want 5", cf.Log.Toc().Len())
	}
	if cf.Param.Toc().Len() != 4 {
		t.Errorf("param TOC has %d entries, want 4", cf.Param.Toc().Len())
	}
	if _, ok := cf.Log.Toc().ByName("acc.x"); !ok {
		t.Error("log TOC is missing acc.x")
	}
	if _, ok := cf.Param.Toc().ByName("pid_rate.roll_kp"); !ok {
		t.Error("param TOC is missing pid_rate.roll_kp")
	}

	version, err := cf.Platform.FirmwareVersion()
	if err != nil || version != "2024.10" {
		t.Errorf("firmware version = %q, %v", version, err)
	}
	device, err := cf.Platform.DeviceTypeName()
	if err != nil || device != "CF21" {
		t.Errorf("device type = %q, %v", device, err)
	}

	if err := cf.Ping(); err != nil {
		t.Errorf("ping: %s", err)
	}
}

func TestConnectRejectsOldProtocol(t *testing.T) {
	host, vehicle := crtplink.Pipe()
	fw := newFakeFirmware(vehicle)
	fw.protocolVersion = 3

	_, err := ConnectWithConfig(host, testConfig())
	if err != ErrorProtocolVersion {
		t.Fatalf("connect err = %v, want ErrorProtocolVersion", err)
	}
}

func TestTocCacheSkipsItemFetch(t *testing.T) {
	cfg := testConfig()

	cf, fw := connectFake(t, cfg)
	first := fw.tocItemRequests.Load()
	if first != 9 { // 5 log + 4 param variables
		t.Fatalf("first connect fetched %d items, want 9", first)
	}
	cf.Disconnect()

	// same firmware tables, same cache: no item traffic at all
	cf2, fw2 := connectFake(t, cfg)
	if n := fw2.tocItemRequests.Load(); n != 0 {
		t.Errorf("second connect fetched %d items, want 0 (cache hit)", n)
	}
	if cf2.Log.Toc().Len() != 5 || cf2.Param.Toc().Len() != 4 {
		t.Errorf("cached TOCs have %d/%d entries, want 5/4",
			cf2.Log.Toc().Len(), cf2.Param.Toc().Len())
	}
	cf2.Disconnect()

	// a changed firmware table changes the checksum and forces a refetch
	host, vehicle := crtplink.Pipe()
	fw3 := newFakeFirmware(vehicle)
	fw3.logVars = append(fw3.logVars, fakeVariable{"gyro", "z", 7, false})
	cf3, err := ConnectWithConfig(host, cfg)
	if err != nil {
		t.Fatalf("third connect: %s", err)
	}
	defer cf3.Disconnect()
	if n := fw3.tocItemRequests.Load(); n != 6 { // new log TOC only
		t.Errorf("third connect fetched %d items, want 6", n)
	}
	if _, ok := cf3.Log.Toc().ByName("gyro.z"); !ok {
		t.Error("refetched log TOC is missing gyro.z")
	}
}

func TestConsoleCollectsLines(t *testing.T) {
	cf, fw := connectFake(t, testConfig())

	fw.pushConsole("SYS: Crazyflie")
	fw.pushConsole(" is up\nMEM: ")
	fw.pushConsole("ready\n")

	want := []string{"SYS: Crazyflie is up", "MEM: ready"}
	for _, line := range want {
		select {
		case got := <-cf.Console.Lines():
			if got != line {
				t.Fatalf("console line = %q, want %q", got, line)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for console line %q", line)
		}
	}

	history := cf.Console.History()
	if len(history) != 2 || history[0] != want[0] || history[1] != want[1] {
		t.Errorf("history = %q, want %q", history, want)
	}
}

func TestLinkDeathResolvesEverything(t *testing.T) {
	cf, fw := connectFake(t, testConfig())

	block, err := cf.Log.CreateBlock("acc.x")
	if err != nil {
		t.Fatalf("create block: %s", err)
	}
	updates, cancel := cf.Param.Watch()
	defer cancel()

	fw.link.Close()

	if err := cf.Wait(); err == nil {
		t.Error("Wait returned nil for a dead link, want the link error")
	}
	if got := cf.State(); got != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got)
	}

	select {
	case _, ok := <-block.Samples():
		if ok {
			t.Error("sample channel delivered after disconnect")
		}
	case <-time.After(time.Second):
		t.Error("sample channel was not closed on disconnect")
	}
	select {
	case _, ok := <-updates:
		if ok {
			t.Error("watch channel delivered after disconnect")
		}
	case <-time.After(time.Second):
		t.Error("watch channel was not closed on disconnect")
	}

	if _, err := cf.Param.Read("ring.effect"); err != ErrorNotConnected {
		t.Errorf("Read after disconnect = %v, want ErrorNotConnected", err)
	}
	if _, err := cf.Log.CreateBlock("acc.x"); err != ErrorNotConnected {
		t.Errorf("CreateBlock after disconnect = %v, want ErrorNotConnected", err)
	}
	if err := cf.Commander.SendStop(); err != ErrorNotConnected {
		t.Errorf("SendStop after disconnect = %v, want ErrorNotConnected", err)
	}
}

func TestDeliberateDisconnectIsClean(t *testing.T) {
	cf, _ := connectFake(t, testConfig())
	cf.Disconnect()
	if err := cf.Wait(); err != nil {
		t.Errorf("Wait after Disconnect = %v, want nil", err)
	}
	cf.Disconnect() // idempotent
}
