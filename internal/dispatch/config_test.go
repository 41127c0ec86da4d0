package dispatch

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		attempt int
		want    time.Duration
	}{
		{name: "first retry", cfg: DefaultConfig(), attempt: 1, want: time.Second},
		{name: "second retry", cfg: DefaultConfig(), attempt: 2, want: 2 * time.Second},
		{name: "third retry", cfg: DefaultConfig(), attempt: 3, want: 4 * time.Second},
		{name: "zero attempt clamps", cfg: DefaultConfig(), attempt: 0, want: time.Second},
		{name: "zero config uses defaults", cfg: Config{}, attempt: 2, want: 2 * time.Second},
		{name: "capped", cfg: Config{BaseDelay: time.Second, MaxDelay: 3 * time.Second}, attempt: 4, want: 3 * time.Second},
		{name: "uncapped saturates", cfg: DefaultConfig(), attempt: 200, want: time.Duration(math.MaxInt64)},
		{name: "largest configured attempt", cfg: DefaultConfig(), attempt: 30, want: time.Second << 29},
		{name: "cap above base", cfg: Config{BaseDelay: 5 * time.Second, MaxDelay: time.Second}, attempt: 1, want: time.Second},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Backoff(tt.cfg, tt.attempt))
		})
	}
}
