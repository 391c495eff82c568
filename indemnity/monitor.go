package indemnity

import (
	"context"
	"sync"
	"time"

	"github.com/warp/indemnity-engine/authz"
)

// =============================================================================
// SLA MONITOR - periodic scan for claims over the processing threshold
// =============================================================================

// monitorCaller is the identity the monitor reads with: every partner, no
// write rights exercised.
var monitorCaller = authz.Caller{ActorID: "sla-monitor", Role: authz.RoleAdmin}

// SLAMonitor logs every active claim whose delai_traitement_jours is over
// the threshold, once per CheckInterval.
type SLAMonitor struct {
	Service       *Service
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewSLAMonitor(svc *Service) *SLAMonitor {
	return &SLAMonitor{
		Service:       svc,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

func (m *SLAMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.Enabled {
		m.Service.logger.Info("sla monitor disabled")
		return
	}
	if m.ticker != nil {
		return
	}

	m.ticker = time.NewTicker(m.CheckInterval)
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.run(m.ticker, m.stop)

	m.Service.logger.Info("sla monitor started", "interval", m.CheckInterval, "sla_days", m.Service.slaDays)
}

func (m *SLAMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker == nil {
		return
	}
	m.ticker.Stop()
	close(m.stop)
	m.wg.Wait()
	m.ticker = nil
	m.Service.logger.Info("sla monitor stopped")
}

func (m *SLAMonitor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer m.wg.Done()

	// Run immediately on start
	m.Check(context.Background())

	for {
		select {
		case <-ticker.C:
			m.Check(context.Background())
		case <-stop:
			return
		}
	}
}

// Check runs one scan and returns the breaching claims.
func (m *SLAMonitor) Check(ctx context.Context) []ClaimReport {
	reports, err := m.Service.SLAReport(ctx, monitorCaller, "")
	if err != nil {
		m.Service.logger.Error("sla scan failed", "error", err)
		return nil
	}
	for _, r := range reports {
		m.Service.logger.Warn("claim over processing threshold",
			"claim_id", r.ClaimID,
			"partner_id", r.PartnerID,
			"status", r.Status,
			"delai_traitement_jours", r.DelayDays,
			"sla_days", r.SLADays,
		)
	}
	m.Service.logger.Info("sla scan complete", "breaches", len(reports))
	return reports
}
