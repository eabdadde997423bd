package domain

// WebhookEndpoint is a per-tenant delivery target. Endpoints are administered
// outside this service; dispatch only ever reads a snapshot of them.
type WebhookEndpoint struct {
	ID       string
	TenantID string
	URL      string
	Events   []string
	Secret   string
	Active   bool
}

func (e WebhookEndpoint) Subscribed(event string) bool {
	for _, name := range e.Events {
		if name == event {
			return true
		}
	}
	return false
}
