package respgen

import (
	"bytes"
	"context"
	"net/http"

	"github.com/getmockd/stubsrv/internal/httpmsg"
	"github.com/getmockd/stubsrv/internal/mapping"
)

// dispatchWebhooks fires every webhook configured on m after its response
// is built. UseWebhooksFireAndForget controls whether the winning request
// waits on them: fire-and-forget runs them in background goroutines outside
// ctx; awaited webhooks run inline. Errors from building or sending a
// webhook request are dropped and never surface to the caller, so a broken
// webhook does not turn an otherwise successful mock response into a failure.
func (g *Generator) dispatchWebhooks(ctx context.Context, m *mapping.Mapping, req *httpmsg.RequestMessage) {
	if len(m.WebhookList) == 0 {
		return
	}
	if m.UseWebhooksFireAndForget {
		for _, hook := range m.WebhookList {
			hook := hook
			go g.fireWebhook(context.Background(), hook, req, m)
		}
		return
	}
	for _, hook := range m.WebhookList {
		g.fireWebhook(ctx, hook, req, m)
	}
}

func (g *Generator) fireWebhook(ctx context.Context, hook mapping.Webhook, req *httpmsg.RequestMessage, m *mapping.Mapping) {
	method := hook.Method
	if method == "" {
		method = http.MethodPost
	}
	body := g.render(hook.Body, req, m)

	outbound, err := http.NewRequestWithContext(ctx, method, hook.URL, bytes.NewReader([]byte(body)))
	if err != nil {
		return
	}
	for k, v := range hook.Headers {
		outbound.Header.Set(k, v)
	}
	resp, err := g.client.Do(outbound)
	if err != nil {
		return
	}
	resp.Body.Close()
}
