package gateway

import (
	"context"

	"github.com/syntax-syndicate/codegate-alt/internal/logger"
	"github.com/syntax-syndicate/codegate-alt/internal/model"
	"github.com/syntax-syndicate/codegate-alt/internal/pipeline"
	"github.com/syntax-syndicate/codegate-alt/internal/redact"
)

func testContext(ep model.ProviderEndpoint) *pipeline.Context {
	return &pipeline.Context{
		Ctx:       context.Background(),
		Provider:  ep,
		Log:       logger.New("gateway-test", "error", "text"),
		PromptID:  "test-prompt",
		SessionID: "test-session",
		Store:     redact.NewStore(),
	}
}
