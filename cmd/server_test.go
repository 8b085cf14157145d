package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banken/internal/camera"
)

type stubDiscovery struct {
	devices []string
	infos   map[string]*camera.DeviceInfo
	scanErr error
}

func (s stubDiscovery) ScanDevices(context.Context) ([]string, error) {
	return s.devices, s.scanErr
}

func (s stubDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	_, ok := s.infos[device]
	return ok
}

func (s stubDiscovery) GetDeviceInfo(_ context.Context, device string) (*camera.DeviceInfo, error) {
	info, ok := s.infos[device]
	if !ok {
		return nil, errors.New("v4l2-ctl が失敗しました")
	}
	return info, nil
}

func TestPrintDevices(t *testing.T) {
	testCases := []struct {
		name    string
		disc    stubDiscovery
		want    string
		wantErr bool
	}{
		{
			name: "デバイスなし",
			disc: stubDiscovery{},
			want: "カメラデバイスが見つかりません\n",
		},
		{
			name: "詳細の取得に成功と失敗",
			disc: stubDiscovery{
				devices: []string{"/dev/video0", "/dev/video2"},
				infos: map[string]*camera.DeviceInfo{
					"/dev/video0": {Device: "/dev/video0", Name: "USB Camera", Driver: "uvcvideo", Formats: []string{"MJPG", "YUYV"}},
				},
			},
			want: "/dev/video0\tUSB Camera\tuvcvideo\tMJPG,YUYV\n" +
				"/dev/video2\t(詳細を取得できません: v4l2-ctl が失敗しました)\n",
		},
		{
			name:    "スキャン失敗",
			disc:    stubDiscovery{scanErr: errors.New("glob")},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := printDevices(context.Background(), &buf, tc.disc)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, buf.String())
		})
	}
}
