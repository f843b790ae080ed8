package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tolelom/lottochain/core"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("amount %q: %w", "x", core.ErrValidation), "validation"},
		{fmt.Errorf("user USER9: %w", core.ErrNotFound), "not_found"},
		{fmt.Errorf("USER0 already in LOTTERY0: %w", core.ErrConflict), "conflict"},
		{fmt.Errorf("lottery LOTTERY0 holds 40: %w", core.ErrState), "state"},
		{core.ErrNotFound, "not_found"},
		{errors.New("disk full"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, core.Classify(tt.err), "%v", tt.err)
	}
}
