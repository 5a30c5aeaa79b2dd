package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/httputil"
	core "github.com/kevinhagel/fundingdiscovery/internal/app/core/service"
	"github.com/kevinhagel/fundingdiscovery/internal/app/system"
	"github.com/kevinhagel/fundingdiscovery/pkg/version"
)

type adapterStatus struct {
	Engine  string `json:"engine"`
	Enabled bool   `json:"enabled"`
	Healthy bool   `json:"healthy"`
}

type cacheStatus struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

type systemStatusResponse struct {
	Service  string            `json:"service"`
	Version  string            `json:"version"`
	Services []core.Descriptor `json:"services"`
	Adapters []adapterStatus   `json:"adapters"`
	Cache    *cacheStatus      `json:"queryCache,omitempty"`
}

// SystemStatus is GET /system/status: service descriptors, per-adapter
// health, and query-cache statistics. Adapter probes are cached briefly so
// status polling does not hammer the engines.
func (h *Handler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	resp := systemStatusResponse{
		Service: "fundingdiscovery",
		Version: version.Version,
	}

	providers := make([]system.DescriptorProvider, 0, len(h.services))
	for _, svc := range h.services {
		if p, ok := svc.(system.DescriptorProvider); ok {
			providers = append(providers, p)
		}
	}
	resp.Services = system.CollectDescriptors(providers)

	resp.Adapters = h.adapterStatuses(r.Context())

	if h.queryCache != nil {
		stats := h.queryCache.Stats()
		resp.Cache = &cacheStatus{
			Hits:      stats.Hits,
			Misses:    stats.Misses,
			Evictions: stats.Evictions,
			Size:      stats.Size,
		}
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) adapterStatuses(ctx context.Context) []adapterStatus {
	if h.adapters == nil {
		return nil
	}
	if cached, ok := h.statusCache.Get(ctx, "adapters"); ok {
		if statuses, ok := cached.([]adapterStatus); ok {
			return statuses
		}
	}

	adapters := h.adapters.All()
	statuses := make([]adapterStatus, 0, len(adapters))
	for _, a := range adapters {
		st := adapterStatus{Engine: string(a.Engine()), Enabled: a.Enabled()}
		if st.Enabled {
			probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			st.Healthy = a.Health(probeCtx) == nil
			cancel()
		}
		statuses = append(statuses, st)
	}

	h.statusCache.Set(ctx, "adapters", statuses)
	return statuses
}
