package kernel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/store"
)

// ProviderToolServer marks integration rows auto-created from configured
// tool servers.
const ProviderToolServer = "tool_server"

// RegisterServerIntegrations records one integration row per owned http/sse
// tool server, keyed by (user, normalized endpoint URL). Reruns and racing
// boots land on the existing row; unowned and stdio servers are skipped.
// Returns the number of rows created.
func (k *Kernel) RegisterServerIntegrations(ctx context.Context) (int, error) {
	if k.integrations == nil || k.toolServers == nil {
		return 0, nil
	}

	created := 0
	for _, id := range k.toolServers.ServerIDs() {
		server, err := k.toolServers.Get(id)
		if err != nil {
			continue
		}
		if server.OwnerUserID == "" || server.Transport.URL == "" {
			continue
		}

		endpoint, err := normalizeEndpoint(server.Transport.URL)
		if err != nil {
			k.logger.Warn("Skipping integration for malformed server URL",
				"server_id", id, "error", err)
			continue
		}

		if _, err := k.integrations.GetByUserAndEndpoint(ctx, server.OwnerTenantID, server.OwnerUserID, endpoint); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return created, fmt.Errorf("looking up integration for server %s: %w", id, err)
		}

		now := time.Now().UTC()
		err = k.integrations.InsertEndpoint(ctx, &models.Integration{
			ID:          uuid.NewString(),
			TenantID:    server.OwnerTenantID,
			UserID:      server.OwnerUserID,
			Provider:    ProviderToolServer,
			EndpointURL: endpoint,
			Status:      models.IntegrationEnabled,
			Metadata:    map[string]any{"server_id": id, "auto_created": true},
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if errors.Is(err, store.ErrAlreadyExists) {
			// Another boot won the insert between the lookup and here.
			continue
		}
		if err != nil {
			return created, fmt.Errorf("registering integration for server %s: %w", id, err)
		}

		created++
		k.logger.Info("Registered tool server integration",
			"server_id", id, "user_id", server.OwnerUserID, "endpoint", endpoint)
	}
	return created, nil
}

// normalizeEndpoint canonicalizes a server URL for the dedupe key: scheme
// and host lowercased, the scheme's default port stripped, trailing slashes
// stripped, fragment dropped. The query survives, it distinguishes servers
// multiplexed behind one path.
func normalizeEndpoint(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint %q missing scheme or host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPort(u.Scheme) {
		host = net.JoinHostPort(host, port)
	}
	u.Host = host
	u.Path = strings.TrimRight(u.Path, "/")
	u.Fragment = ""
	return u.String(), nil
}

func defaultPort(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}
