package enrich

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/screening-cli/internal/extract"
	"github.com/sells-group/screening-cli/internal/model"
)

type mockCapability struct {
	mock.Mock
}

var _ extract.Capability = (*mockCapability)(nil)

func (m *mockCapability) Extract(ctx context.Context, req extract.Request) (*extract.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*extract.Result), args.Error(1)
}

func jsonResult(payload string) *extract.Result {
	return &extract.Result{
		JSON:  []byte(payload),
		Usage: model.TokenUsage{InputTokens: 50, OutputTokens: 25},
	}
}
