package collectors

import (
	"context"

	"github.com/breeze-rmm/sysmgr/internal/enrich"
	"github.com/breeze-rmm/sysmgr/internal/inventory"
	"github.com/breeze-rmm/sysmgr/internal/platform"
)

// ServiceDetailer resolves a service's secondary metadata.
type ServiceDetailer interface {
	Service(name string) enrich.ServiceDetails
}

// ServiceCollector lists services and enriches each one.
type ServiceCollector struct {
	port     platform.ServicePort
	detailer ServiceDetailer
}

// NewServiceCollector creates a service collector. detailer may be nil, in
// which case records carry only what the listing provides.
func NewServiceCollector(port platform.ServicePort, detailer ServiceDetailer) *ServiceCollector {
	return &ServiceCollector{port: port, detailer: detailer}
}

// Collect returns every service ordered by display name. A listing failure
// fails the whole pass.
func (c *ServiceCollector) Collect(ctx context.Context) ([]inventory.ServiceRecord, error) {
	entries, err := c.port.ListServices(ctx)
	if err != nil {
		return nil, enumerationFailed(inventory.Services, err)
	}

	records := make([]inventory.ServiceRecord, 0, len(entries))
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		rec := inventory.ServiceRecord{
			Name:        e.Name,
			DisplayName: e.DisplayName,
			Status:      e.Status,
			StartType:   inventory.StartUnknown,
		}
		if rec.DisplayName == "" {
			rec.DisplayName = e.Name
		}
		if c.detailer != nil {
			d := c.detailer.Service(e.Name)
			rec.StartType = d.StartType
			rec.Description = d.Description
			rec.Publisher = d.Publisher
		}
		records = append(records, rec)
	}
	return finish(ctx, inventory.Services, records)
}
