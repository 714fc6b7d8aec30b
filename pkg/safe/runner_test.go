package safe

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_RecoversPanic(t *testing.T) {
	err := Run(context.Background(), "scan:evm", func(ctx context.Context) error {
		panic("nil pointer")
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "scan:evm")
}

func TestRun_PassesError(t *testing.T) {
	want := errors.New("tip unavailable")
	err := Run(context.Background(), "confirm:tron", func(ctx context.Context) error { return want })
	assert.ErrorIs(t, err, want)
}

func TestGoCtx_DoesNotCrash(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	GoCtx(context.Background(), func(ctx context.Context) {
		defer wg.Done()
		panic("boom")
	})
	wg.Wait()
}
