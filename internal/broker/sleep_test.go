package broker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSleepCtx(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	cases := []struct {
		name string
		ctx  context.Context
		d    time.Duration
		want error
	}{
		{name: "zero delay", ctx: context.Background(), d: 0},
		{name: "negative delay", ctx: context.Background(), d: -time.Second},
		{name: "short wait", ctx: context.Background(), d: time.Millisecond},
		{name: "zero delay canceled", ctx: canceled, d: 0, want: context.Canceled},
		{name: "wait canceled", ctx: canceled, d: time.Hour, want: context.Canceled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := sleepCtx(tc.ctx, tc.d); !errors.Is(err, tc.want) {
				t.Fatalf("sleepCtx = %v, want %v", err, tc.want)
			}
		})
	}
}
