package governor

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

var defaults = Settings{UtilizationPct: 75, BrowsersPerCore: 1.5, RAMPerSessionMB: 300, FixedOverheadMB: 512}

func TestCompute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		res  Resources
		set  Settings
		want Result
	}{
		{
			name: "cpu bound",
			res:  Resources{CPUs: 4, MemoryMB: 16384},
			set:  defaults,
			want: Result{N: 4, CPULimit: 4, RAMLimit: 39},
		},
		{
			name: "ram bound",
			res:  Resources{CPUs: 16, MemoryMB: 2048},
			set:  defaults,
			want: Result{N: 3, CPULimit: 18, RAMLimit: 3},
		},
		{
			name: "floored at one",
			res:  Resources{CPUs: 1, MemoryMB: 512},
			set:  defaults,
			want: Result{N: 1, CPULimit: 1, RAMLimit: -1},
		},
		{
			name: "override bypasses limits",
			res:  Resources{CPUs: 1, MemoryMB: 512},
			set:  Settings{Override: 12, UtilizationPct: 75, BrowsersPerCore: 1.5, RAMPerSessionMB: 300, FixedOverheadMB: 512},
			want: Result{N: 12, CPULimit: 1, RAMLimit: -1},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Compute(tc.res, tc.set))
		})
	}
}

func TestDetect(t *testing.T) {
	t.Parallel()

	eightGB := func() (uint64, error) { return 8 << 30, nil }

	res, err := Detect(eightGB, 0, 0)
	require.NoError(t, err)
	require.Equal(t, runtime.NumCPU(), res.CPUs)
	require.Equal(t, 8192, res.MemoryMB)

	res, err = Detect(eightGB, 1, 1024)
	require.NoError(t, err)
	require.Equal(t, 1, res.CPUs)
	require.Equal(t, 1024, res.MemoryMB)

	_, err = Detect(func() (uint64, error) { return 0, errors.New("no procfs") }, 0, 0)
	require.Error(t, err)
}
