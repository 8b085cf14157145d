package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"banken/internal/camera"
	"banken/internal/config"
	"banken/internal/notify"
	"banken/internal/server"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// fakeDevice は ok が true の間だけ一様なフレームを返すデバイス
type fakeDevice struct {
	mu     sync.Mutex
	ok     bool
	closed bool
}

func (d *fakeDevice) Read(m *gocv.Mat) bool {
	time.Sleep(2 * time.Millisecond)
	if !d.ok {
		return false
	}
	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), 48, 64, gocv.MatTypeCV8UC3)
	defer src.Close()
	src.CopyTo(m)
	return true
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakeDiscovery struct {
	available bool
}

func (fakeDiscovery) ScanDevices(context.Context) ([]string, error) { return nil, nil }

func (d fakeDiscovery) IsDeviceAvailable(context.Context, string) bool { return d.available }

func (fakeDiscovery) GetDeviceInfo(context.Context, string) (*camera.DeviceInfo, error) {
	return nil, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.ShutdownTimeout = time.Second
	cfg.Camera.Backend = "fake"
	cfg.Camera.Device = "fake0"
	cfg.Camera.RetryDelay = time.Millisecond
	cfg.Detection.WorkingWidth = 32
	cfg.Pipeline.PollInterval = time.Millisecond
	return cfg
}

func factoryWith(dev camera.Device) *camera.Factory {
	f := camera.NewFactory()
	f.Register("fake", func(context.Context, camera.Settings) (camera.Device, error) {
		return dev, nil
	})
	return f
}

func TestAppServesUntilStopRequested(t *testing.T) {
	dev := &fakeDevice{ok: true}
	a, err := New(context.Background(), testConfig(), zerolog.Nop(), WithFactory(factoryWith(dev)))
	require.NoError(t, err)
	defer a.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(context.Background(), ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var status server.StatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return false
		}
		return status.Published > 0
	}, 3*time.Second, 10*time.Millisecond, "フレームが公開されませんでした")

	// 公開されたフレームは処理解像度に縮小されている
	f, ok := a.Bus().Snapshot()
	require.True(t, ok)
	assert.Equal(t, 32, f.Width)
	assert.Equal(t, 24, f.Height)

	resp, err := http.Post(base+"/api/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("停止要求でアプリケーションが終了しませんでした")
	}
	assert.True(t, dev.isClosed(), "デバイスが閉じられていません")
}

func TestAppContextCancel(t *testing.T) {
	dev := &fakeDevice{ok: true}
	a, err := New(context.Background(), testConfig(), zerolog.Nop(), WithFactory(factoryWith(dev)))
	require.NoError(t, err)
	defer a.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx, ln) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("キャンセルでアプリケーションが終了しませんでした")
	}
	assert.True(t, a.Stop().IsSet())
}

func TestAppDeviceLost(t *testing.T) {
	cfg := testConfig()
	cfg.Camera.MaxReadFailures = 3

	dev := &fakeDevice{ok: false}
	a, err := New(context.Background(), cfg, zerolog.Nop(), WithFactory(factoryWith(dev)))
	require.NoError(t, err)
	defer a.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(context.Background(), ln) }()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, camera.ErrDeviceLost)
	case <-time.After(3 * time.Second):
		t.Fatal("デバイス喪失でアプリケーションが終了しませんでした")
	}
	assert.True(t, a.Stop().IsSet(), "デバイス喪失で停止フラグが立っていません")
	assert.True(t, dev.isClosed())
}

func TestNew(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(*config.Config)
		available bool
		wantErr   bool
	}{
		{
			name:      "正常な設定",
			modify:    func(*config.Config) {},
			available: true,
		},
		{
			name:      "利用できないデバイスパス",
			modify:    func(c *config.Config) { c.Camera.Device = "/dev/video9" },
			available: false,
			wantErr:   true,
		},
		{
			name:      "利用できるデバイスパス",
			modify:    func(c *config.Config) { c.Camera.Device = "/dev/video0" },
			available: true,
		},
		{
			name:      "未登録のバックエンド",
			modify:    func(c *config.Config) { c.Camera.Backend = "gstreamer" },
			available: true,
			wantErr:   true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.modify(cfg)

			a, err := New(context.Background(), cfg, zerolog.Nop(),
				WithFactory(factoryWith(&fakeDevice{ok: true})),
				WithDiscovery(fakeDiscovery{available: tc.available}),
			)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, a.Close())
		})
	}
}

func TestNewDisablesInvalidNotification(t *testing.T) {
	cfg := testConfig()
	cfg.Notification.Enabled = true
	cfg.Notification.Transport = "pigeon"

	a, err := New(context.Background(), cfg, zerolog.Nop(), WithFactory(factoryWith(&fakeDevice{ok: true})))
	require.NoError(t, err, "通知設定の誤りで起動が失敗してはいけません")
	defer a.Close()

	assert.Equal(t, notify.Noop{}, a.notifier)
}

func TestNewLogNotifier(t *testing.T) {
	cfg := testConfig()
	cfg.Notification.Enabled = true
	cfg.Notification.Transport = notify.TransportLog
	cfg.Notification.Recipient = "owner"

	a, err := New(context.Background(), cfg, zerolog.Nop(), WithFactory(factoryWith(&fakeDevice{ok: true})))
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &notify.Log{}, a.notifier)
}
