package shared

import (
	"fmt"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-rollout/internal/types"
)

func TestKindErrorRoundTrip(t *testing.T) {
	tests := []struct {
		kind     types.ErrorKind
		wantCode errbuilder.ErrCode
	}{
		{kind: types.ErrorAuthKeyUnknown, wantCode: errbuilder.CodePermissionDenied},
		{kind: types.ErrorNotAuthenticated, wantCode: errbuilder.CodePermissionDenied},
		{kind: types.ErrorSignatureIncorrect, wantCode: errbuilder.CodePermissionDenied},
		{kind: types.ErrorVersionNotFound, wantCode: errbuilder.CodeNotFound},
		{kind: types.ErrorFileNotFound, wantCode: errbuilder.CodeNotFound},
		{kind: types.ErrorStartUnreachable, wantCode: errbuilder.CodeFailedPrecondition},
		{kind: types.ErrorRequest, wantCode: errbuilder.CodeInvalidArgument},
		{kind: types.ErrorInternal, wantCode: errbuilder.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := KindError(tt.kind, "detail")
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errbuilder.CodeOf(err))
			assert.Equal(t, tt.kind, KindOf(err))

			wire := WireErrorOf(err)
			if diff := cmp.Diff(types.WireError{Kind: tt.kind, Description: "detail"}, wire); diff != "" {
				t.Fatalf("unexpected wire error (-want +got):\n%s", diff)
			}

			rebuilt := ErrorFromWire(wire)
			assert.Equal(t, tt.kind, KindOf(rebuilt))
			assert.Equal(t, tt.wantCode, errbuilder.CodeOf(rebuilt))
		})
	}
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, types.ErrorInternal, KindOf(fmt.Errorf("boom")))
	assert.Equal(t, types.ErrorKind(""), KindOf(nil))

	wrapped := fmt.Errorf("serving: %w", KindError(types.ErrorFileNotFound, ""))
	assert.True(t, IsKind(wrapped, types.ErrorFileNotFound))
}

func TestErrorFromWireUnknownKind(t *testing.T) {
	err := ErrorFromWire(types.WireError{Kind: "mystery", Description: "x"})
	assert.Equal(t, types.ErrorInternal, KindOf(err))
}
