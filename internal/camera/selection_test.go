package camera

import "testing"

func TestSelectBuiltin(t *testing.T) {
	cam := func(index, w, h int) Candidate {
		return Candidate{Index: index, Width: w, Height: h, Works: true}
	}

	testCases := []struct {
		name       string
		candidates []Candidate
		os         OS
		expected   int
		expectOK   bool
	}{
		{
			name:     "候補なし",
			os:       OSLinux,
			expectOK: false,
		},
		{
			name:       "候補が1つ",
			candidates: []Candidate{cam(3, 640, 480)},
			os:         OSMac,
			expected:   3,
			expectOK:   true,
		},
		{
			name:       "macOSはindex 1を優先",
			candidates: []Candidate{cam(0, 1920, 1080), cam(1, 1280, 720)},
			os:         OSMac,
			expected:   1,
			expectOK:   true,
		},
		{
			name:       "macOSでindex 1がなければ最大解像度",
			candidates: []Candidate{cam(0, 640, 480), cam(2, 1920, 1080)},
			os:         OSMac,
			expected:   2,
			expectOK:   true,
		},
		{
			name:       "Windowsはindex 0を優先",
			candidates: []Candidate{cam(0, 640, 480), cam(1, 1920, 1080)},
			os:         OSWindows,
			expected:   0,
			expectOK:   true,
		},
		{
			name:       "Windowsでindex 0がなければ最大解像度",
			candidates: []Candidate{cam(1, 640, 480), cam(2, 1280, 720)},
			os:         OSWindows,
			expected:   2,
			expectOK:   true,
		},
		{
			name:       "Linuxはindex 0を優先",
			candidates: []Candidate{cam(1, 1920, 1080), cam(0, 320, 240)},
			os:         OSLinux,
			expected:   0,
			expectOK:   true,
		},
		{
			name:       "Linuxでindex 0がなければ最大解像度",
			candidates: []Candidate{cam(1, 640, 480), cam(2, 1280, 720), cam(3, 800, 600)},
			os:         OSLinux,
			expected:   2,
			expectOK:   true,
		},
		{
			name:       "同じ解像度なら先に見つかった方",
			candidates: []Candidate{cam(4, 1280, 720), cam(2, 1280, 720)},
			os:         OSWindows,
			expected:   4,
			expectOK:   true,
		},
		{
			name:       "動作しない候補は無視する",
			candidates: []Candidate{{Index: 0, Width: 1920, Height: 1080}, cam(5, 640, 480)},
			os:         OSLinux,
			expected:   5,
			expectOK:   true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := SelectBuiltin(tc.candidates, tc.os)
			if ok != tc.expectOK {
				t.Fatalf("ok: expected %v, got %v", tc.expectOK, ok)
			}
			if ok && got != tc.expected {
				t.Errorf("expected index %d, got %d", tc.expected, got)
			}
		})
	}
}

func TestBackendPriority(t *testing.T) {
	testCases := []struct {
		os       OS
		probe    Backend
		priority []Backend
	}{
		{os: OSMac, probe: BackendAVFoundation, priority: []Backend{BackendAVFoundation, BackendAny}},
		{os: OSWindows, probe: BackendDirectShow, priority: []Backend{BackendDirectShow, BackendMSMF, BackendAny}},
		{os: OSLinux, probe: BackendDefault, priority: []Backend{BackendV4L2, BackendAny}},
		{os: "freebsd", probe: BackendDefault, priority: []Backend{BackendV4L2, BackendAny}},
	}

	for _, tc := range testCases {
		t.Run(string(tc.os), func(t *testing.T) {
			if got := ProbeBackend(tc.os); got != tc.probe {
				t.Errorf("probe backend: expected %s, got %s", tc.probe, got)
			}

			attempts := openAttempts(0, tc.os)
			if len(attempts) != len(tc.priority)+1 {
				t.Fatalf("expected %d attempts, got %d", len(tc.priority)+1, len(attempts))
			}
			for i, b := range tc.priority {
				if attempts[i].backend != b {
					t.Errorf("attempt %d: expected %s, got %s", i, b, attempts[i].backend)
				}
			}
			if last := attempts[len(attempts)-1]; last.backend != BackendDefault {
				t.Errorf("last attempt should use the default backend, got %s", last.backend)
			}
		})
	}
}

func TestSystemName(t *testing.T) {
	testCases := map[OS]string{
		OSMac:     "Darwin",
		OSWindows: "Windows",
		OSLinux:   "Linux",
		"freebsd": "Freebsd",
	}
	for os, expected := range testCases {
		if got := os.SystemName(); got != expected {
			t.Errorf("%s: expected %s, got %s", os, expected, got)
		}
	}
}
